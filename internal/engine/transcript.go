package engine

import (
	"fmt"
	"strings"
)

const (
	RoleModerator = "moderator"
	RolePersona   = "persona"
)

// Message is one entry in the caller-owned transcript. PersonaID and
// PersonaName are set only for persona messages; persona ids are always
// positive, so omitempty is safe on the wire.
type Message struct {
	Role        string `json:"role"`
	Text        string `json:"text"`
	PersonaID   int    `json:"persona_id,omitempty"`
	PersonaName string `json:"persona_name,omitempty"`
}

func ModeratorMessage(text string) Message {
	return Message{Role: RoleModerator, Text: text}
}

func PersonaMessage(id int, name, text string) Message {
	return Message{Role: RolePersona, Text: text, PersonaID: id, PersonaName: name}
}

// PersonaHistory maps persona id to that persona's prior statements in
// transcript order. Rebuilt from scratch on every request; the transcript is
// the only durable state.
type PersonaHistory map[int][]string

// Reconstruct derives PersonaHistory from a caller-supplied transcript.
// Every known persona gets an entry, empty for personas who have not spoken.
// Persona messages whose id is not in known are tolerated: they stay in the
// transcript but contribute nothing to PersonaHistory. Single pass,
// deterministic, order-preserving.
func Reconstruct(history []Message, known map[int]struct{}) PersonaHistory {
	result := make(PersonaHistory, len(known))
	for id := range known {
		result[id] = []string{}
	}

	for _, msg := range history {
		if msg.Role != RolePersona {
			continue
		}
		if _, ok := known[msg.PersonaID]; !ok {
			continue
		}
		result[msg.PersonaID] = append(result[msg.PersonaID], msg.Text)
	}
	return result
}

// tail returns the last n elements of msgs without copying.
func tail(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func tailStrings(items []string, n int) []string {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// recentSpeakers lists persona display names appearing in the last window
// messages, in order. Duplicates are kept: repetition tells the selector who
// is dominating the conversation.
func recentSpeakers(history []Message, window int) []string {
	var names []string
	for _, msg := range tail(history, window) {
		if msg.Role == RolePersona && strings.TrimSpace(msg.PersonaName) != "" {
			names = append(names, msg.PersonaName)
		}
	}
	return names
}

// FormatTranscript renders a transcript for terminal display.
func FormatTranscript(history []Message) string {
	var sb strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case RoleModerator:
			fmt.Fprintf(&sb, "\nMODERATOR: %s\n", msg.Text)
		case RolePersona:
			fmt.Fprintf(&sb, "\n%s: %s\n", strings.ToUpper(msg.PersonaName), msg.Text)
		}
	}
	return sb.String()
}
