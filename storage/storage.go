package storage

import (
	"context"
	"time"

	"Retoucher/core"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Id        string        `bson:"id" json:"id"`
	Role      Role          `bson:"role" json:"role"`
	Text      string        `bson:"text" json:"text"`
	ImageRef  core.ImageRef `bson:"image_ref,omitempty" json:"imageRef,omitempty"`
	IsFree    bool          `bson:"is_free" json:"isFree"`
	Tokens    int           `bson:"tokens" json:"-"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// SessionMemory is the state of one editing conversation. It is owned by a
// single conversation and mutated only by the pipeline run holding it.
type SessionMemory struct {
	ConversationId     string        `bson:"conversation_id"`
	LastUploadedImage  core.ImageRef `bson:"last_uploaded_image"`
	LastGeneratedImage core.ImageRef `bson:"last_generated_image"`
	LastIssues         []string      `bson:"last_issues"`
	History            []Message     `bson:"history"`
	Tokens             int           `bson:"tokens"`
	RetryCount         int           `bson:"retry_count"`
	UpdatedAt          time.Time     `bson:"updated_at"`
}

type SessionStorage interface {
	// GetSession returns nil without error when the conversation is unknown
	GetSession(ctx context.Context, conversationId string) (*SessionMemory, error)
	SaveSession(ctx context.Context, session *SessionMemory) error
	ClearSession(ctx context.Context, conversationId string) error
	Close() error
}

// CreditStorage is the remote credit counter. Users without a record start
// with the configured initial balance.
type CreditStorage interface {
	GetBalance(ctx context.Context, userId string) (int, error)
	// Decrement removes exactly one credit; false if the balance is already <= 0
	Decrement(ctx context.Context, userId string) (bool, error)
	Close() error
}
