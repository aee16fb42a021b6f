// Package catalog loads the audience configuration: named panels of
// personas with the narrative anchors that keep their voices consistent.
// The catalog is parsed once at startup and never mutated afterwards, so it
// is safe to share across concurrent requests.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Persona is one simulated focus-group participant. The numeric ID is the
// join key between client-supplied transcripts and the catalog; it must stay
// stable across requests and unique within its audience.
type Persona struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Occupation string `json:"occupation"`
	Location   string `json:"location"`

	// Narrative anchors. Injected verbatim into prompts so the persona
	// grounds answers in a concrete life instead of demographics.
	Backstory            string `json:"backstory"`
	CategoryRelationship string `json:"category_relationship"`

	PersonalityTraits []string `json:"personality_traits"`
	SpeechPatterns    []string `json:"speech_patterns"`

	LikelyOpinions map[string]string `json:"likely_opinions,omitempty"`
}

// FirstName returns the leading token of the persona's display name, used
// for lenient matching of selector output.
func (p Persona) FirstName() string {
	fields := strings.Fields(p.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// LeadTrait is the persona's first personality trait, or a neutral default.
func (p Persona) LeadTrait() string {
	if len(p.PersonalityTraits) == 0 {
		return "neutral"
	}
	return p.PersonalityTraits[0]
}

type Audience struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Personas    []Persona `json:"personas"`
}

// PersonaByID does a linear scan; audiences are small (single digits).
func (a *Audience) PersonaByID(id int) (Persona, bool) {
	for _, p := range a.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

func (a *Audience) PersonaIDs() map[int]struct{} {
	ids := make(map[int]struct{}, len(a.Personas))
	for _, p := range a.Personas {
		ids[p.ID] = struct{}{}
	}
	return ids
}

type Catalog struct {
	audiences map[string]*Audience
	order     []string
}

type fileAudience struct {
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Personas    []Persona `json:"personas"`
}

type fileRoot struct {
	Audiences map[string]fileAudience `json:"audiences"`
}

// LoadFile reads and validates the audiences configuration. Validation is
// done here, once, so request handling never sees a malformed persona.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read audiences config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var root fileRoot
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse audiences config: %w", err)
	}
	if len(root.Audiences) == 0 {
		return nil, fmt.Errorf("audiences config defines no audiences")
	}

	catalog := &Catalog{audiences: make(map[string]*Audience, len(root.Audiences))}
	for id, data := range root.Audiences {
		audience := &Audience{
			ID:          id,
			Category:    strings.TrimSpace(data.Category),
			Description: strings.TrimSpace(data.Description),
			Personas:    data.Personas,
		}
		if err := validateAudience(audience); err != nil {
			return nil, fmt.Errorf("audience %q: %w", id, err)
		}
		catalog.audiences[id] = audience
		catalog.order = append(catalog.order, id)
	}
	sort.Strings(catalog.order)
	return catalog, nil
}

func validateAudience(a *Audience) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("audience id is empty")
	}
	if len(a.Personas) == 0 {
		return fmt.Errorf("no personas defined")
	}

	seen := map[int]string{}
	for idx, p := range a.Personas {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("persona at index %d has no name", idx)
		}
		if p.ID <= 0 {
			return fmt.Errorf("persona %q has invalid id %d (must be positive)", p.Name, p.ID)
		}
		if prior, dup := seen[p.ID]; dup {
			return fmt.Errorf("persona id %d reused by %q and %q", p.ID, prior, p.Name)
		}
		seen[p.ID] = p.Name
		if strings.TrimSpace(p.Backstory) == "" {
			return fmt.Errorf("persona %q has no backstory", p.Name)
		}
		if strings.TrimSpace(p.CategoryRelationship) == "" {
			return fmt.Errorf("persona %q has no category relationship", p.Name)
		}
	}
	return nil
}

// Audience returns the audience for id, or false if it is unknown.
func (c *Catalog) Audience(id string) (*Audience, bool) {
	audience, ok := c.audiences[strings.TrimSpace(id)]
	return audience, ok
}

// Audiences returns all audiences in stable (sorted id) order.
func (c *Catalog) Audiences() []*Audience {
	out := make([]*Audience, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.audiences[id])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.audiences)
}
