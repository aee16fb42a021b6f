// Package prompts holds the instruction text sent to the completion
// provider. The wording is the consistency contract: first-person framing,
// injected prior statements, and the banned-phrase block are what keep a
// persona from drifting into generic survey answers. Keeping it here, apart
// from the engine's control flow, lets the wording be iterated without
// touching turn-taking or assembly logic.
package prompts

import (
	"fmt"
	"strings"
)

// PersonaProfile is the slice of a catalog persona the prompt needs.
type PersonaProfile struct {
	Name                 string
	Age                  int
	Occupation           string
	Location             string
	Backstory            string
	CategoryRelationship string
	PersonalityTraits    []string
	SpeechPatterns       []string
}

// PersonaSystem builds the system prompt for one persona's response.
// ownHistory must be the persona's prior statements in conversation order;
// the caller bounds it to the recent window.
func PersonaSystem(p PersonaProfile, category string, ownHistory []string, directAddress bool) string {
	topic := "THIS TOPIC"
	if strings.TrimSpace(category) != "" {
		topic = strings.ToUpper(strings.TrimSpace(category))
	}

	var history strings.Builder
	if len(ownHistory) > 0 {
		history.WriteString("\n\nWHAT YOU'VE ALREADY SAID IN THIS CONVERSATION:\n")
		for _, stmt := range ownHistory {
			fmt.Fprintf(&history, "- %q\n", stmt)
		}
		history.WriteString("\nDo NOT contradict these. You can reference them naturally.")
	}

	direct := ""
	if directAddress {
		direct = "\n\nThe moderator is speaking to YOU directly. Answer for yourself; do not defer to the rest of the group."
	}

	return fmt.Sprintf(`You ARE %s. You are participating in a focus group discussion.

WHO YOU ARE:
- Name: %s
- Age: %d
- Occupation: %s
- Location: %s

YOUR STORY:
%s

YOUR RELATIONSHIP TO %s:
%s

YOUR PERSONALITY:
%s

HOW YOU SPEAK:
%s%s%s

---

CRITICAL INSTRUCTIONS:
1. Respond AS %s - stay in character completely
2. Use language natural to your background and personality
3. Reference your actual experiences and history
4. Don't sanitize your opinion - give your REAL view
5. Typical response: 2-4 sentences (but vary naturally - some answers are shorter)

NEVER DO THESE:
- Sound like a generic survey respondent
- Start with "I think..." every time (vary: "Honestly," "For me," "Look," "So," etc.)
- Use phrases like "quality matters to me" or "it depends"
- Contradict what you've already said
- Suddenly know things %s wouldn't know
- Use perfect grammar if that doesn't fit your character
- Use survey-speak like "I would say that..." or "In my opinion..."

Respond naturally and authentically as %s.`,
		p.Name,
		p.Name,
		p.Age,
		p.Occupation,
		p.Location,
		strings.TrimSpace(p.Backstory),
		topic,
		strings.TrimSpace(p.CategoryRelationship),
		joinOrNone(p.PersonalityTraits),
		joinOrNone(p.SpeechPatterns),
		history.String(),
		direct,
		p.Name,
		p.Name,
		p.Name,
	)
}

// Line is one turn of recent conversation shown to the model.
type Line struct {
	Speaker string
	Text    string
}

// Conversation builds the user message: a bounded window of recent turns
// followed by the moderator's current question.
func Conversation(recent []Line, question string) string {
	if len(recent) == 0 {
		return question
	}

	var sb strings.Builder
	sb.WriteString("[Recent conversation]")
	for _, line := range recent {
		fmt.Fprintf(&sb, "\n%s: %s", line.Speaker, line.Text)
	}
	sb.WriteString("\n\n---\n\nModerator's current question: ")
	sb.WriteString(question)
	return sb.String()
}

// RosterEntry is one participant summary in the selection prompt.
type RosterEntry struct {
	Name       string
	Age        int
	Occupation string
	LeadTrait  string
	Statements int
}

// Selection builds the turn-taking prompt. The model is asked for a JSON
// array of participant names in speaking order; the engine parses it
// leniently and falls back to a deterministic choice when it cannot.
func Selection(question string, roster []RosterEntry, recentSpeakers []string) string {
	summaries := make([]string, 0, len(roster))
	for _, entry := range roster {
		summaries = append(summaries, fmt.Sprintf(
			"- %s (%d, %s): %s. Statements so far: %d",
			entry.Name, entry.Age, entry.Occupation, entry.LeadTrait, entry.Statements,
		))
	}

	recent := "None yet"
	if len(recentSpeakers) > 0 {
		recent = strings.Join(recentSpeakers, ", ")
	}

	return fmt.Sprintf(`You are moderating a focus group. The moderator just asked:

%q

Here are the participants:
%s

Recent speakers (last few responses): %s

Select 2-4 participants who would NATURALLY respond to this question. Consider:
1. Who has relevant experience/opinions based on their profile?
2. Who hasn't spoken recently and might want to contribute?
3. Natural group dynamics - some people talk more than others
4. The question topic - who would this resonate with?

Return ONLY a JSON array of participant names who should respond, in the order they'd speak.
Example: ["Marcus", "Jennifer", "David"]

Do NOT include everyone. Real focus groups have natural turn-taking.`,
		question,
		strings.Join(summaries, "\n"),
		recent,
	)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none noted"
	}
	return strings.Join(items, ", ")
}
