package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"Retoucher/ai"
	"Retoucher/core"
	"Retoucher/lib/sl"
	"Retoucher/storage"
)

type Classifier interface {
	Classify(ctx context.Context, text string, hasImage bool, history []storage.Message) core.Intent
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, history []storage.Message) string
}

type Responder interface {
	Respond(ctx context.Context, text string, history []storage.Message) (string, error)
	Clarify(ctx context.Context, text string, history []storage.Message) (string, error)
}

type Analyzer interface {
	Describe(ctx context.Context, ref core.ImageRef, request string) (string, error)
	Inspect(ctx context.Context, ref core.ImageRef) (*ai.Analysis, error)
}

type Generator interface {
	Generate(ctx context.Context, base core.ImageRef, instruction string) (core.ImageRef, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte) (core.ImageRef, error)
}

// Sessions hands out session memory to one run per conversation at a time.
// Exclusive serializes work on an arbitrary key, such as a user's credit.
type Sessions interface {
	WithSession(ctx context.Context, conversationId string, fn func(*storage.SessionMemory) error) error
	Exclusive(ctx context.Context, key string, fn func() error) error
	Clear(ctx context.Context, conversationId string) error
}

type Collaborators struct {
	Classifier  Classifier
	Synthesizer Synthesizer
	Responder   Responder
	Analyzer    Analyzer
	Generator   Generator
	Uploader    Uploader
	Credits     storage.CreditStorage
}

// Pipeline drives one user message through classification, the chosen
// branch and the session update.
type Pipeline struct {
	Collaborators
	sessions   Sessions
	retryDelay time.Duration
	log        *slog.Logger
}

func NewPipeline(sessions Sessions, c Collaborators, retryDelay time.Duration, log *slog.Logger) *Pipeline {
	return &Pipeline{
		Collaborators: c,
		sessions:      sessions,
		retryDelay:    retryDelay,
		log:           log.With(sl.Module("pipeline")),
	}
}

var _ core.Assistant = (*Pipeline)(nil)

func (p *Pipeline) HandleMessage(ctx context.Context, in core.Input) (*core.Reply, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	hasImage := in.Image != nil && len(in.Image.Data) > 0
	if strings.TrimSpace(in.Text) == "" && !hasImage {
		return nil, core.Validation("empty message")
	}

	var upload core.ImageRef
	if hasImage {
		ref, err := p.Uploader.Upload(ctx, in.Image.Data)
		if err != nil {
			return nil, fmt.Errorf("uploading image: %w", err)
		}
		upload = ref
	}

	var reply *core.Reply
	err := p.sessions.WithSession(ctx, in.ConversationId, func(s *storage.SessionMemory) error {
		prior := s.Recent(len(s.History))

		message := storage.NewMessage(storage.RoleUser, in.Text)
		message.ImageRef = upload
		if upload != "" {
			// a new photo starts a new edit lineage
			s.LastGeneratedImage = ""
			s.LastIssues = nil
		}
		s.Append(message)

		intent := p.Classifier.Classify(ctx, in.Text, upload != "", prior)
		switch intent {
		case core.IntentAnalysis:
			reply = p.analyze(ctx, s, in.Text, upload)
		case core.IntentEditRequest:
			reply = p.edit(ctx, s, in.UserId, upload, func(ctx context.Context) string {
				return p.Synthesizer.Synthesize(ctx, in.Text, prior)
			})
		case core.IntentClarification:
			reply = p.converse(ctx, intent, in.Text, prior, p.Responder.Clarify)
		default:
			reply = p.converse(ctx, core.IntentConversation, in.Text, prior, p.Responder.Respond)
		}
		p.record(s, reply)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.With(
		slog.String("conversation", in.ConversationId),
		slog.String("ip", in.ClientIp),
		slog.String("intent", string(reply.Intent)),
		slog.String("status", string(reply.Status)),
		slog.Bool("charged", reply.Charged),
	).Info("message handled")
	return reply, nil
}

// FixIssues runs a billable edit that corrects the issues found by the last
// automatic analysis.
func (p *Pipeline) FixIssues(ctx context.Context, in core.Input) (*core.Reply, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var reply *core.Reply
	err := p.sessions.WithSession(ctx, in.ConversationId, func(s *storage.SessionMemory) error {
		instruction := ai.InstructionForIssues(s.LastIssues)
		if instruction == "" {
			reply = &core.Reply{Intent: core.IntentConversation, Status: core.StatusOK, Text: msgNothingToFix}
			return nil
		}
		s.Append(storage.NewMessage(storage.RoleUser, msgFixRequest))
		reply = p.edit(ctx, s, in.UserId, "", func(context.Context) string {
			return instruction
		})
		if reply.Status == core.StatusOK {
			s.LastIssues = nil
		}
		p.record(s, reply)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.With(
		slog.String("conversation", in.ConversationId),
		slog.String("ip", in.ClientIp),
		slog.String("status", string(reply.Status)),
		slog.Bool("charged", reply.Charged),
	).Info("issues fix handled")
	return reply, nil
}

func (p *Pipeline) ClearConversation(ctx context.Context, conversationId string) error {
	if conversationId == "" {
		return core.Validation("conversation id required")
	}
	return p.sessions.Clear(ctx, conversationId)
}

func (p *Pipeline) Balance(ctx context.Context, userId string) (int, error) {
	if userId == "" {
		return 0, core.ErrAuth
	}
	balance, err := p.Credits.GetBalance(ctx, userId)
	if err != nil {
		return 0, core.NewCollaboratorError("credits", err)
	}
	return balance, nil
}

func validate(in core.Input) error {
	if in.UserId == "" {
		return core.ErrAuth
	}
	if in.ConversationId == "" {
		return core.Validation("conversation id required")
	}
	return nil
}

func (p *Pipeline) converse(
	ctx context.Context,
	intent core.Intent,
	text string,
	prior []storage.Message,
	answer func(context.Context, string, []storage.Message) (string, error),
) *core.Reply {
	response, err := answer(ctx, text, prior)
	if err != nil {
		p.log.Error("conversational reply", sl.Err(err))
		return &core.Reply{Intent: intent, Status: core.StatusFailed, Text: msgConversationFail}
	}
	return &core.Reply{Intent: intent, Status: core.StatusOK, Text: response}
}

// record appends the assistant turn to the history.
func (p *Pipeline) record(s *storage.SessionMemory, reply *core.Reply) {
	message := storage.NewMessage(storage.RoleAssistant, reply.Text)
	message.ImageRef = reply.Image
	message.IsFree = !reply.Charged
	s.Append(message)
}
