package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomsuharto-git/irm-personas-api/internal/catalog"
	"github.com/tomsuharto-git/irm-personas-api/internal/engine/prompts"
	"github.com/tomsuharto-git/irm-personas-api/internal/llm"
	"github.com/tomsuharto-git/irm-personas-api/internal/observability"
)

// jsonArrayPattern finds the first bracketed array anywhere in the model's
// reply; providers routinely wrap the array in prose or code fences.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*?\]`)

// selectResponders decides which personas answer a group question. The
// judgment call is delegated to the provider; everything after that cleans
// up its reply: lenient parsing against the roster, dedup, clamping to the
// configured band, and a deterministic fallback so a non-empty audience
// never yields zero responders.
func (e *Engine) selectResponders(ctx context.Context, audience *catalog.Audience, history []Message, personaHistory PersonaHistory, question string) []catalog.Persona {
	roster := make([]prompts.RosterEntry, 0, len(audience.Personas))
	for _, p := range audience.Personas {
		roster = append(roster, prompts.RosterEntry{
			Name:       p.Name,
			Age:        p.Age,
			Occupation: p.Occupation,
			LeadTrait:  p.LeadTrait(),
			Statements: len(personaHistory[p.ID]),
		})
	}

	prompt := prompts.Selection(question, roster, recentSpeakers(history, e.opts.RecentSpeakerWindow))

	startedAt := time.Now()
	reply, err := e.llm.Complete(ctx, llm.Request{
		User:        prompt,
		Temperature: e.opts.SelectionTemperature,
		MaxTokens:   e.opts.SelectionMaxTokens,
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObserveProviderCall(e.llm.Name(), "select", outcome, time.Since(startedAt))

	var selected []catalog.Persona
	if err != nil {
		e.logger.Warn("responder_selection_failed", observability.Fields{
			"audience": audience.ID,
			"error":    err.Error(),
		})
	} else {
		selected = parseSelection(reply, audience)
	}

	return e.clampSelection(selected, audience, history)
}

// parseSelection maps the provider's free-form reply onto known personas.
// Grammar: the first JSON array in the reply, whose elements are either
// numeric persona ids or strings matched as id digits, full name, or first
// name (case-insensitive). Unmatched elements are dropped; duplicates keep
// their first position.
func parseSelection(reply string, audience *catalog.Audience) []catalog.Persona {
	match := jsonArrayPattern.FindString(reply)
	if match == "" {
		return nil
	}

	var entries []any
	if err := json.Unmarshal([]byte(match), &entries); err != nil {
		return nil
	}

	byID := make(map[int]catalog.Persona, len(audience.Personas))
	byName := make(map[string]catalog.Persona, len(audience.Personas)*2)
	for _, p := range audience.Personas {
		byID[p.ID] = p
		byName[strings.ToLower(p.Name)] = p
		if first := strings.ToLower(p.FirstName()); first != "" {
			if _, taken := byName[first]; !taken {
				byName[first] = p
			}
		}
	}

	var selected []catalog.Persona
	seen := map[int]struct{}{}
	appendPersona := func(p catalog.Persona) {
		if _, dup := seen[p.ID]; dup {
			return
		}
		seen[p.ID] = struct{}{}
		selected = append(selected, p)
	}

	for _, entry := range entries {
		switch v := entry.(type) {
		case float64:
			if p, ok := byID[int(v)]; ok && float64(int(v)) == v {
				appendPersona(p)
			}
		case string:
			clean := strings.ToLower(strings.TrimSpace(v))
			if clean == "" {
				continue
			}
			if id, err := strconv.Atoi(clean); err == nil {
				if p, ok := byID[id]; ok {
					appendPersona(p)
				}
				continue
			}
			if p, ok := byName[clean]; ok {
				appendPersona(p)
			}
		}
	}
	return selected
}

// clampSelection enforces the responder band: at least MinResponders (or the
// whole audience if it is smaller), at most MaxResponders. Shortfalls are
// topped up from the fallback ordering.
func (e *Engine) clampSelection(selected []catalog.Persona, audience *catalog.Audience, history []Message) []catalog.Persona {
	min := e.opts.MinResponders
	max := e.opts.MaxResponders
	if len(audience.Personas) < min {
		min = len(audience.Personas)
	}

	if len(selected) < min {
		seen := map[int]struct{}{}
		for _, p := range selected {
			seen[p.ID] = struct{}{}
		}
		want := min
		if len(selected) == 0 {
			// Nothing usable from the provider: take the deterministic
			// default of up to three least-recent speakers.
			want = 3
			if want > len(audience.Personas) {
				want = len(audience.Personas)
			}
		}
		for _, p := range fallbackOrder(audience, history) {
			if len(selected) >= want {
				break
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			selected = append(selected, p)
		}
	}

	if len(selected) > max {
		selected = selected[:max]
	}
	return selected
}

// fallbackOrder ranks personas least-recently-spoken first (never-spoken
// personas first, in catalog order), which both seeds first turns and
// rotates quiet participants in when selection parsing fails.
func fallbackOrder(audience *catalog.Audience, history []Message) []catalog.Persona {
	lastSpoke := make(map[int]int, len(audience.Personas))
	for _, p := range audience.Personas {
		lastSpoke[p.ID] = -1
	}
	for idx, msg := range history {
		if msg.Role == RolePersona {
			if _, known := lastSpoke[msg.PersonaID]; known {
				lastSpoke[msg.PersonaID] = idx
			}
		}
	}

	ordered := make([]catalog.Persona, len(audience.Personas))
	copy(ordered, audience.Personas)
	sort.SliceStable(ordered, func(i, j int) bool {
		return lastSpoke[ordered[i].ID] < lastSpoke[ordered[j].ID]
	})
	return ordered
}
