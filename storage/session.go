package storage

import (
	"time"

	"Retoucher/core"

	"github.com/google/uuid"
)

const maxTokens = 20000

func NewSessionMemory(conversationId string) *SessionMemory {
	return &SessionMemory{
		ConversationId: conversationId,
		History:        []Message{},
		UpdatedAt:      time.Now(),
	}
}

func NewMessage(role Role, text string) Message {
	return Message{
		Id:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Append adds a message to the timeline. Oldest messages are dropped once
// the history exceeds the token budget. A user message carrying an image
// becomes the last uploaded image.
func (s *SessionMemory) Append(message Message) {
	message.Tokens = len([]rune(message.Text))
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	s.Tokens += message.Tokens
	for s.Tokens > maxTokens && len(s.History) > 0 {
		s.Tokens -= s.History[0].Tokens
		s.History = s.History[1:]
	}
	s.History = append(s.History, message)
	if message.Role == RoleUser && message.ImageRef != "" {
		s.LastUploadedImage = message.ImageRef
	}
	s.UpdatedAt = time.Now()
}

// Recent returns a copy of the last n messages in insertion order.
func (s *SessionMemory) Recent(n int) []Message {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	recent := make([]Message, len(s.History)-start)
	copy(recent, s.History[start:])
	return recent
}

// LastUserImage searches the history backwards for the most recent image a
// user attached, falling back to the remembered upload.
func (s *SessionMemory) LastUserImage() core.ImageRef {
	for i := len(s.History) - 1; i >= 0; i-- {
		msg := s.History[i]
		if msg.Role == RoleUser && msg.ImageRef != "" {
			return msg.ImageRef
		}
	}
	return s.LastUploadedImage
}

// WorkingImage is the image the user currently looks at: the last edit
// result if any, otherwise the last upload.
func (s *SessionMemory) WorkingImage() core.ImageRef {
	if s.LastGeneratedImage != "" {
		return s.LastGeneratedImage
	}
	return s.LastUserImage()
}

func (s *SessionMemory) Clone() *SessionMemory {
	cc := *s
	cc.History = make([]Message, len(s.History))
	copy(cc.History, s.History)
	if s.LastIssues != nil {
		cc.LastIssues = make([]string, len(s.LastIssues))
		copy(cc.LastIssues, s.LastIssues)
	}
	return &cc
}
