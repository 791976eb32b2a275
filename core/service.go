package core

import "context"

// ImageRef is an externally resolvable image locator (URL).
type ImageRef string

// Attachment is an image the user sent along with a message.
type Attachment struct {
	Data []byte
}

type Input struct {
	ConversationId string
	UserId         string
	Text           string
	Image          *Attachment
	ClientIp       string
}

type Status string

const (
	StatusOK                 Status = "ok"
	StatusNeedImage          Status = "need_image"
	StatusInsufficientCredit Status = "insufficient_credit"
	StatusFailed             Status = "failed"
)

// Reply is the outcome of one pipeline run. Charged is true only when an
// edit succeeded and the credit ledger was decremented.
type Reply struct {
	Intent  Intent
	Status  Status
	Text    string
	Image   ImageRef
	Charged bool
	Issues  []string
}

// Assistant is what transports talk to.
type Assistant interface {
	HandleMessage(ctx context.Context, in Input) (*Reply, error)
	FixIssues(ctx context.Context, in Input) (*Reply, error)
	ClearConversation(ctx context.Context, conversationId string) error
	Balance(ctx context.Context, userId string) (int, error)
}
