// Package engine implements the stateless focus-group conversation core:
// rebuilding per-persona memory from the caller's transcript, deciding who
// answers next, generating each persona's utterance through the injected
// LLM client, and assembling the extended transcript. Nothing here survives
// a request; the transcript the caller sends back is the only state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomsuharto-git/irm-personas-api/internal/catalog"
	"github.com/tomsuharto-git/irm-personas-api/internal/common"
	"github.com/tomsuharto-git/irm-personas-api/internal/engine/prompts"
	"github.com/tomsuharto-git/irm-personas-api/internal/llm"
	"github.com/tomsuharto-git/irm-personas-api/internal/observability"
)

// Options are the engine tunables. Selection runs cooler than generation on
// purpose: turn-taking should be fairly stable while voices stay varied.
type Options struct {
	SelectionTemperature  float64
	SelectionMaxTokens    int
	GenerationTemperature float64
	GenerationMaxTokens   int

	MinResponders int
	MaxResponders int

	// RecentSpeakerWindow bounds the transcript tail scanned for the
	// selection prompt's recency signal. ConversationWindow bounds the
	// turns shown to a responding persona, and OwnHistoryWindow bounds the
	// persona's own prior statements injected for consistency.
	RecentSpeakerWindow int
	ConversationWindow  int
	OwnHistoryWindow    int
}

func DefaultOptions() Options {
	return Options{
		SelectionTemperature:  0.7,
		SelectionMaxTokens:    200,
		GenerationTemperature: 0.9,
		GenerationMaxTokens:   300,
		MinResponders:         2,
		MaxResponders:         4,
		RecentSpeakerWindow:   6,
		ConversationWindow:    8,
		OwnHistoryWindow:      5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SelectionTemperature <= 0 {
		o.SelectionTemperature = d.SelectionTemperature
	}
	if o.SelectionMaxTokens <= 0 {
		o.SelectionMaxTokens = d.SelectionMaxTokens
	}
	if o.GenerationTemperature <= 0 {
		o.GenerationTemperature = d.GenerationTemperature
	}
	if o.GenerationMaxTokens <= 0 {
		o.GenerationMaxTokens = d.GenerationMaxTokens
	}
	if o.MinResponders <= 0 {
		o.MinResponders = d.MinResponders
	}
	if o.MaxResponders < o.MinResponders {
		o.MaxResponders = d.MaxResponders
	}
	if o.RecentSpeakerWindow <= 0 {
		o.RecentSpeakerWindow = d.RecentSpeakerWindow
	}
	if o.ConversationWindow <= 0 {
		o.ConversationWindow = d.ConversationWindow
	}
	if o.OwnHistoryWindow <= 0 {
		o.OwnHistoryWindow = d.OwnHistoryWindow
	}
	return o
}

// Engine is safe for concurrent use: the catalog is immutable, the LLM
// client is the providers' own concern, and every request works on its own
// transcript copy.
type Engine struct {
	catalog *catalog.Catalog
	llm     llm.Client
	logger  *observability.Logger
	metrics *observability.APIMetrics
	opts    Options
}

func New(cat *catalog.Catalog, client llm.Client, logger *observability.Logger, metrics *observability.APIMetrics, opts Options) *Engine {
	return &Engine{
		catalog: cat,
		llm:     client,
		logger:  logger,
		metrics: metrics,
		opts:    opts.withDefaults(),
	}
}

// Response is one persona's utterance for immediate display.
type Response struct {
	PersonaID   int    `json:"persona_id"`
	PersonaName string `json:"persona_name"`
	Text        string `json:"text"`
}

// GenerationFailure marks a persona whose response could not be generated.
// The rest of the batch is unaffected.
type GenerationFailure struct {
	PersonaID   int    `json:"persona_id"`
	PersonaName string `json:"persona_name"`
	Error       string `json:"error"`
}

type GroupResult struct {
	Responses []Response
	Failures  []GenerationFailure
	History   []Message
}

type PersonaResult struct {
	Response Response
	History  []Message
}

// AskGroup answers a moderator question addressed to the whole panel.
// Responder order in the result and the transcript always equals selection
// order, regardless of which generation finishes first.
func (e *Engine) AskGroup(ctx context.Context, audienceID, question string, history []Message) (*GroupResult, error) {
	audience, ok := e.catalog.Audience(audienceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAudienceNotFound, audienceID)
	}

	personaHistory := Reconstruct(history, audience.PersonaIDs())
	selected := e.selectResponders(ctx, audience, history, personaHistory, question)

	type slot struct {
		text string
		err  error
	}
	slots := make([]slot, len(selected))

	// Generations only read shared immutable inputs, so they fan out; each
	// goroutine owns exactly one result slot.
	var wg sync.WaitGroup
	for idx, persona := range selected {
		wg.Add(1)
		go func(idx int, persona catalog.Persona) {
			defer wg.Done()
			text, err := e.generate(ctx, audience, persona, personaHistory[persona.ID], history, question, false)
			slots[idx] = slot{text: text, err: err}
		}(idx, persona)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &GroupResult{History: assemble(history, ModeratorMessage(question))}
	for idx, persona := range selected {
		if err := slots[idx].err; err != nil {
			e.logger.Warn("persona_generation_failed", observability.Fields{
				"audience":   audience.ID,
				"persona_id": persona.ID,
				"error":      err.Error(),
			})
			result.Failures = append(result.Failures, GenerationFailure{
				PersonaID:   persona.ID,
				PersonaName: persona.Name,
				Error:       "response generation failed",
			})
			continue
		}
		result.Responses = append(result.Responses, Response{
			PersonaID:   persona.ID,
			PersonaName: persona.Name,
			Text:        slots[idx].text,
		})
		result.History = assemble(result.History, PersonaMessage(persona.ID, persona.Name, slots[idx].text))
	}

	e.metrics.ObserveResponderCount(len(result.Responses))
	return result, nil
}

// AskPersona answers a moderator question addressed to one panelist. An
// unknown persona id fails before any provider call is made.
func (e *Engine) AskPersona(ctx context.Context, audienceID string, personaID int, question string, history []Message) (*PersonaResult, error) {
	audience, ok := e.catalog.Audience(audienceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAudienceNotFound, audienceID)
	}
	persona, ok := audience.PersonaByID(personaID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d in audience %q", ErrPersonaNotFound, personaID, audienceID)
	}

	personaHistory := Reconstruct(history, audience.PersonaIDs())

	text, err := e.generate(ctx, audience, persona, personaHistory[persona.ID], history, question, true)
	if err != nil {
		return nil, err
	}

	// The directed question is tagged in the transcript so later turns can
	// see who it was aimed at.
	newHistory := assemble(history,
		ModeratorMessage(fmt.Sprintf("[To %s] %s", persona.Name, question)),
		PersonaMessage(persona.ID, persona.Name, text),
	)

	return &PersonaResult{
		Response: Response{PersonaID: persona.ID, PersonaName: persona.Name, Text: text},
		History:  newHistory,
	}, nil
}

// generate produces one persona's utterance.
func (e *Engine) generate(ctx context.Context, audience *catalog.Audience, persona catalog.Persona, ownHistory []string, history []Message, question string, directAddress bool) (string, error) {
	system := prompts.PersonaSystem(
		prompts.PersonaProfile{
			Name:                 persona.Name,
			Age:                  persona.Age,
			Occupation:           persona.Occupation,
			Location:             persona.Location,
			Backstory:            persona.Backstory,
			CategoryRelationship: persona.CategoryRelationship,
			PersonalityTraits:    persona.PersonalityTraits,
			SpeechPatterns:       persona.SpeechPatterns,
		},
		audience.Category,
		tailStrings(ownHistory, e.opts.OwnHistoryWindow),
		directAddress,
	)

	recent := make([]prompts.Line, 0, e.opts.ConversationWindow)
	for _, msg := range tail(history, e.opts.ConversationWindow) {
		switch msg.Role {
		case RoleModerator:
			recent = append(recent, prompts.Line{Speaker: "Moderator", Text: msg.Text})
		case RolePersona:
			recent = append(recent, prompts.Line{Speaker: msg.PersonaName, Text: msg.Text})
		}
	}

	startedAt := time.Now()
	text, err := e.llm.Complete(ctx, llm.Request{
		System:      system,
		User:        prompts.Conversation(recent, question),
		Temperature: e.opts.GenerationTemperature,
		MaxTokens:   e.opts.GenerationMaxTokens,
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObserveProviderCall(e.llm.Name(), "generate", outcome, time.Since(startedAt))

	if err != nil {
		return "", &ProviderError{Provider: e.llm.Name(), Operation: "generate", Err: err}
	}

	e.logger.Info("persona_response_generated", observability.Fields{
		"audience":   audience.ID,
		"persona_id": persona.ID,
		"preview":    common.Preview(text, 80),
	})
	return text, nil
}

// assemble appends messages to a copy of the transcript, never mutating the
// caller's slice.
func assemble(history []Message, added ...Message) []Message {
	out := make([]Message, 0, len(history)+len(added))
	out = append(out, history...)
	out = append(out, added...)
	return out
}
