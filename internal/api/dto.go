package api

import "github.com/tomsuharto-git/irm-personas-api/internal/engine"

type askRequest struct {
	Question string           `json:"question"`
	History  []engine.Message `json:"history,omitempty"`
}

type askGroupResponse struct {
	Responses []engine.Response          `json:"responses"`
	Errors    []engine.GenerationFailure `json:"errors,omitempty"`
	History   []engine.Message           `json:"history"`
}

type askPersonaResponse struct {
	Response engine.Response  `json:"response"`
	History  []engine.Message `json:"history"`
}

type audienceSummary struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	PersonaCount int    `json:"persona_count"`
}

type personaSummary struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	Age               int      `json:"age"`
	Occupation        string   `json:"occupation"`
	Location          string   `json:"location"`
	Backstory         string   `json:"backstory"`
	PersonalityTraits []string `json:"personality_traits"`
}

type audienceDetail struct {
	ID          string           `json:"id"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Personas    []personaSummary `json:"personas"`
}
