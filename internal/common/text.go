package common

import "strings"

func TruncateRunes(value string, maxRunes int) string {
	trimmed := strings.TrimSpace(value)
	if maxRunes <= 0 {
		return trimmed
	}

	runes := []rune(trimmed)
	if len(runes) <= maxRunes {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}

// Preview flattens a block of text into a single bounded line, for log
// fields that must not carry full utterances or prompts.
func Preview(value string, maxRunes int) string {
	flat := strings.Join(strings.Fields(value), " ")
	return TruncateRunes(flat, maxRunes)
}
