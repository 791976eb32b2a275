package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"Retoucher/lib/sl"
	"Retoucher/storage"
)

const synthesisWindow = 8

const synthesisPrompt = `You write instructions for an image editing model working on real-estate photos.
Write ONE detailed, self-contained English instruction for the latest user request.
It is not a summary: include EVERY object, colour, material, texture and lighting quality mentioned anywhere in the conversation below, not only in the latest request.
Resolve references like "it", "that one" or "the same but darker" using the conversation.
If the latest request is a bare confirmation such as "fais-le", "ok", "fait", "applique" or "vas-y", carry out the assistant's previous suggestions with all of their details.
Be precise about placement, colours and finishes so the instruction can be applied without reading the conversation.
Keep the room structure, walls, windows and perspective unchanged unless asked.
Answer with the instruction only.

Conversation:
%s
Latest request: %s`

// PromptSynthesizer turns a conversational request into a standalone
// editing instruction.
type PromptSynthesizer struct {
	client Completer
	log    *slog.Logger
}

func NewPromptSynthesizer(client Completer, log *slog.Logger) *PromptSynthesizer {
	return &PromptSynthesizer{
		client: client,
		log:    log.With(sl.Module("synthesizer")),
	}
}

// Synthesize falls back to the raw user text when the provider fails.
func (s *PromptSynthesizer) Synthesize(ctx context.Context, text string, history []storage.Message) string {
	prompt := fmt.Sprintf(synthesisPrompt, transcript(tail(history, synthesisWindow)), text)
	instruction, err := s.client.Complete(ctx, "", []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		s.log.Warn("synthesis failed, using raw text", sl.Err(err))
		return text
	}
	instruction = strings.Trim(strings.TrimSpace(instruction), "\"")
	if instruction == "" {
		return text
	}
	return instruction
}
