package chat

import (
	"strings"

	"github.com/suPer8Hu/gemini-chat/internal/config"
)

const (
	FallbackEmpty   = "I apologize, but I couldn't generate a response. Please try again."
	FallbackFailure = "I'm experiencing technical difficulties. Please try again in a moment."

	ModelAnswer       = "gemini 1.5 flash"
	AttributionAnswer = "Ritesh and Himanshu"
)

// BuildPrompt renders a role-tagged transcript: the role's system line, the
// history window in order, the new user message and a trailing "Assistant:" cue.
func BuildPrompt(userMessage string, role config.Role, window []Message) string {
	var b strings.Builder
	b.WriteString("System: ")
	b.WriteString(role.SystemPrompt)
	b.WriteString("\n\n")
	for _, m := range window {
		if m.Role == RoleUser {
			b.WriteString("Human: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Human: ")
	b.WriteString(userMessage)
	b.WriteString("\nAssistant:")
	return b.String()
}

type intentOverride struct {
	match  func(lower string) bool
	answer string
}

// overrides are evaluated in order; the first match wins.
var overrides = []intentOverride{
	{
		match: func(lm string) bool {
			return strings.Contains(lm, "model") &&
				containsAny(lm, "which", "what", "use", "using")
		},
		answer: ModelAnswer,
	},
	{
		match: func(lm string) bool {
			return strings.Contains(lm, "who") &&
				containsAny(lm, "developed", "made", "created") &&
				containsAny(lm, "you", "assistant")
		},
		answer: AttributionAnswer,
	},
}

// MatchOverride reports the fixed answer for messages asking about the model
// or its authors. Matching is case-insensitive substring matching.
func MatchOverride(message string) (string, bool) {
	lm := strings.ToLower(message)
	for _, o := range overrides {
		if o.match(lm) {
			return o.answer, true
		}
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
