package llm

import (
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSONObject pulls a JSON object out of model output that may wrap it
// in fenced code blocks or surrounding prose. Returns "" when no object-like
// text is present.
func ExtractJSONObject(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+len("```"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	}

	text = strings.TrimSpace(text)

	if match := jsonObjectPattern.FindString(text); match != "" {
		return match
	}
	return ""
}
