package core

import "strings"

// Intent is the classified purpose of a user message. It is derived per
// message and never persisted.
type Intent string

const (
	IntentAnalysis      Intent = "analysis"
	IntentEditRequest   Intent = "edit_request"
	IntentNeedImage     Intent = "need_image"
	IntentContinuation  Intent = "continuation"
	IntentConversation  Intent = "conversation"
	IntentClarification Intent = "clarification"
)

// classifiable is the set a language model may answer with.
var classifiable = []Intent{IntentConversation, IntentEditRequest, IntentAnalysis}

// MatchIntent compares a raw model answer against the classifiable set.
// Surrounding whitespace, quotes and a trailing period are ignored, the
// comparison is case-insensitive and must otherwise be exact.
func MatchIntent(raw string) (Intent, bool) {
	token := strings.TrimSpace(raw)
	token = strings.Trim(token, "\"'`")
	token = strings.TrimSuffix(token, ".")
	token = strings.TrimSpace(token)
	for _, intent := range classifiable {
		if strings.EqualFold(token, string(intent)) {
			return intent, true
		}
	}
	return IntentClarification, false
}
