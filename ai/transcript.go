package ai

import (
	"strings"

	"Retoucher/storage"
)

// tail returns at most n trailing entries of the history.
func tail(history []storage.Message, n int) []storage.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// transcript renders history entries as plain "ROLE: text" lines for prompts
// that embed the conversation instead of sending it as turns.
func transcript(history []storage.Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(strings.ToUpper(string(m.Role)))
		b.WriteString(": ")
		b.WriteString(m.Text)
		if m.ImageRef != "" {
			b.WriteString(" [image]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// turns converts history entries into provider messages.
func turns(history []storage.Message) []Message {
	messages := make([]Message, 0, len(history))
	for _, m := range history {
		text := m.Text
		if text == "" && m.ImageRef != "" {
			text = "[image]"
		}
		if text == "" {
			continue
		}
		role := RoleUser
		if m.Role == storage.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: text})
	}
	return messages
}
