package ai

import (
	"context"
	"io"
	"log/slog"

	"Retoucher/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubCompleter records the prompts it receives and answers from a script.
type stubCompleter struct {
	answer  string
	err     error
	systems []string
	calls   [][]Message
}

func (s *stubCompleter) Complete(_ context.Context, systemPrompt string, messages []Message) (string, error) {
	s.systems = append(s.systems, systemPrompt)
	s.calls = append(s.calls, messages)
	return s.answer, s.err
}

func history(texts ...string) []storage.Message {
	var h []storage.Message
	for i, text := range texts {
		role := storage.RoleUser
		if i%2 == 1 {
			role = storage.RoleAssistant
		}
		h = append(h, storage.NewMessage(role, text))
	}
	return h
}
