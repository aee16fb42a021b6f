package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomsuharto-git/irm-personas-api/internal/engine"
)

func validateQuestion(value string, maxLen int) (string, error) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return "", fmt.Errorf("question is required")
	}
	if maxLen > 0 && len([]rune(clean)) > maxLen {
		return "", fmt.Errorf("question must be <= %d chars", maxLen)
	}
	return clean, nil
}

// validateHistory checks the caller-supplied transcript shape. Unknown
// persona ids are deliberately not rejected here; the engine tolerates them.
func validateHistory(history []engine.Message) error {
	for idx, msg := range history {
		switch msg.Role {
		case engine.RoleModerator:
			if msg.PersonaID != 0 || msg.PersonaName != "" {
				return fmt.Errorf("history[%d]: moderator messages must not carry persona fields", idx)
			}
		case engine.RolePersona:
			if msg.PersonaID <= 0 {
				return fmt.Errorf("history[%d]: persona messages require a positive persona_id", idx)
			}
		default:
			return fmt.Errorf("history[%d]: role must be %q or %q", idx, engine.RoleModerator, engine.RolePersona)
		}
	}
	return nil
}

func parsePersonaID(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("persona id must be a positive integer")
	}
	return id, nil
}
