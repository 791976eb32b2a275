package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"Retoucher/core"
	"Retoucher/lib/sl"
	"Retoucher/storage"
)

const classifierWindow = 6

const classifierPrompt = `You classify messages sent to a real-estate photo retouching assistant.
Answer with exactly one word, nothing else:
conversation - greetings, questions, small talk, anything that does not ask to change or inspect a photo
edit_request - the user asks to modify a photo (remove, add, brighten, repaint, declutter, stage...)
analysis - the user asks to describe, evaluate or find problems in a photo

Recent conversation:
%s
Message to classify: %s
Message has an attached image: %t`

// IntentClassifier decides what a user message asks for.
type IntentClassifier struct {
	client Completer
	log    *slog.Logger
}

func NewIntentClassifier(client Completer, log *slog.Logger) *IntentClassifier {
	return &IntentClassifier{
		client: client,
		log:    log.With(sl.Module("classifier")),
	}
}

// Classify never fails: an image without text is an analysis, a provider
// error means conversation and an unrecognized answer means clarification.
// history holds the entries preceding the message.
func (c *IntentClassifier) Classify(ctx context.Context, text string, hasImage bool, history []storage.Message) core.Intent {
	if hasImage && strings.TrimSpace(text) == "" {
		return core.IntentAnalysis
	}

	prompt := fmt.Sprintf(classifierPrompt, transcript(tail(history, classifierWindow)), text, hasImage)
	answer, err := c.client.Complete(ctx, "", []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		c.log.Warn("classification failed", sl.Err(err))
		return core.IntentConversation
	}

	intent, ok := core.MatchIntent(answer)
	if !ok {
		c.log.With(sl.Text("answer", answer)).Debug("unrecognized classification")
	}
	return intent
}
