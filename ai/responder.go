package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"Retoucher/lib/sl"
	"Retoucher/storage"
)

// RedirectMarker prefixes a primary answer that hands the request over to
// the secondary provider.
const RedirectMarker = "REDIRECT_TO_GPT:"

const responderWindow = 6

const primaryPrompt = `You are a friendly assistant for real-estate agents who retouch property photos.
Answer in French, briefly. You can explain what the photo editor can do: remove objects or clutter,
improve lighting, neutralize decoration, stage empty rooms, analyze a photo for visual issues.
If the request needs precise factual knowledge, legal or pricing information, or you are not
confident, answer only with ` + RedirectMarker + ` followed by the reason.`

const secondaryPrompt = `You are a friendly assistant for real-estate agents who retouch property photos.
Answer in French, briefly and accurately.`

const clarificationRequest = `The user's last message is ambiguous: %q.
Politely ask them, in French, to say whether they want to edit a photo, analyze a photo or just chat.`

type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyRedirect
)

// Reply is the tagged answer of the primary conversational provider.
type Reply struct {
	Kind   ReplyKind
	Text   string
	Reason string
}

// RedirectingProvider wraps a completion client whose answers may carry the
// redirect marker.
type RedirectingProvider struct {
	client Completer
}

func NewRedirectingProvider(client Completer) *RedirectingProvider {
	return &RedirectingProvider{client: client}
}

func (p *RedirectingProvider) Reply(ctx context.Context, systemPrompt string, messages []Message) (Reply, error) {
	answer, err := p.client.Complete(ctx, systemPrompt, messages)
	if err != nil {
		return Reply{}, err
	}
	return ParseReply(answer), nil
}

// ParseReply tags an answer as a redirect when it starts with the marker.
func ParseReply(answer string) Reply {
	trimmed := strings.TrimSpace(answer)
	if reason, ok := strings.CutPrefix(trimmed, RedirectMarker); ok {
		return Reply{Kind: ReplyRedirect, Reason: strings.TrimSpace(reason)}
	}
	return Reply{Kind: ReplyText, Text: trimmed}
}

type Primary interface {
	Reply(ctx context.Context, systemPrompt string, messages []Message) (Reply, error)
}

// Responder answers conversational messages with the primary provider and
// falls back to the secondary one on redirect or error.
type Responder struct {
	primary   Primary
	secondary Completer
	log       *slog.Logger
}

func NewResponder(primary Primary, secondary Completer, log *slog.Logger) *Responder {
	return &Responder{
		primary:   primary,
		secondary: secondary,
		log:       log.With(sl.Module("responder")),
	}
}

// Respond answers text in the context of the preceding history entries.
func (r *Responder) Respond(ctx context.Context, text string, history []storage.Message) (string, error) {
	messages := append(turns(tail(history, responderWindow)), Message{Role: RoleUser, Content: text})
	return r.respond(ctx, messages)
}

// Clarify asks the user to restate an ambiguous message.
func (r *Responder) Clarify(ctx context.Context, text string, history []storage.Message) (string, error) {
	messages := append(turns(tail(history, responderWindow)), Message{
		Role:    RoleUser,
		Content: fmt.Sprintf(clarificationRequest, text),
	})
	return r.respond(ctx, messages)
}

func (r *Responder) respond(ctx context.Context, messages []Message) (string, error) {
	if r.primary != nil {
		reply, err := r.primary.Reply(ctx, primaryPrompt, messages)
		switch {
		case err != nil:
			r.log.Warn("primary provider failed", sl.Err(err))
		case reply.Kind == ReplyRedirect:
			r.log.With(sl.Text("reason", reply.Reason)).Debug("redirected to secondary")
		case reply.Text != "":
			return reply.Text, nil
		}
	}
	if r.secondary == nil {
		return "", errors.New("no secondary provider")
	}
	answer, err := r.secondary.Complete(ctx, secondaryPrompt, messages)
	if err != nil {
		return "", fmt.Errorf("secondary provider: %w", err)
	}
	return answer, nil
}
