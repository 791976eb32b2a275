package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Retoucher/core"
	"Retoucher/lib/sl"
	"Retoucher/storage"
)

type baseSource int

const (
	baseNone baseSource = iota
	baseUpload
	baseGenerated
	baseHistory
)

// selectBase picks the image an edit applies to: the image attached to the
// current message, else the last generated image, else the most recent
// image a user attached.
func selectBase(s *storage.SessionMemory, upload core.ImageRef) (core.ImageRef, baseSource) {
	if upload != "" {
		return upload, baseUpload
	}
	if s.LastGeneratedImage != "" {
		return s.LastGeneratedImage, baseGenerated
	}
	if ref := s.LastUserImage(); ref != "" {
		return ref, baseHistory
	}
	return "", baseNone
}

// edit runs a billable edit. Edits of one user are serialized across all of
// their conversations, so the balance read before the first attempt still
// holds when the single decrement follows a successful attempt.
func (p *Pipeline) edit(
	ctx context.Context,
	s *storage.SessionMemory,
	userId string,
	upload core.ImageRef,
	instruction func(context.Context) string,
) *core.Reply {
	base, source := selectBase(s, upload)
	if source == baseNone {
		return &core.Reply{Intent: core.IntentNeedImage, Status: core.StatusNeedImage, Text: msgNeedImage}
	}
	intent := core.IntentEditRequest
	if source == baseGenerated {
		intent = core.IntentContinuation
	}
	log := p.log.With(
		slog.String("conversation", s.ConversationId),
		slog.String("user", userId),
		slog.String("intent", string(intent)),
	)

	var reply *core.Reply
	err := p.sessions.Exclusive(ctx, creditKey(userId), func() error {
		reply = p.chargedEdit(ctx, s, userId, intent, base, instruction, log)
		return nil
	})
	if err != nil {
		log.Error("waiting for credit reservation", sl.Err(err))
		return &core.Reply{Intent: intent, Status: core.StatusFailed, Text: msgEditFailed}
	}
	return reply
}

func creditKey(userId string) string {
	return "credits:" + userId
}

// chargedEdit must run under the user's credit lock.
func (p *Pipeline) chargedEdit(
	ctx context.Context,
	s *storage.SessionMemory,
	userId string,
	intent core.Intent,
	base core.ImageRef,
	instruction func(context.Context) string,
	log *slog.Logger,
) *core.Reply {
	err := p.reserve(ctx, userId)
	switch {
	case errors.Is(err, core.ErrInsufficientCredit):
		return &core.Reply{Intent: intent, Status: core.StatusInsufficientCredit, Text: msgInsufficient}
	case err != nil:
		log.Error("reading credit balance", sl.Err(err))
		return &core.Reply{Intent: intent, Status: core.StatusFailed, Text: msgUnavailable}
	}

	result, err := p.editWithRetry(ctx, s, func(ctx context.Context) (core.ImageRef, error) {
		return p.attempt(ctx, s, base, instruction)
	})
	if err != nil {
		log.Error("edit failed, no credit consumed", sl.Err(err))
		return &core.Reply{Intent: intent, Status: core.StatusFailed, Text: msgEditFailed}
	}

	// the edit happened; charge it even if the caller went away meanwhile
	charged, err := p.Credits.Decrement(context.WithoutCancel(ctx), userId)
	if err != nil {
		log.Error("decrementing credit after successful edit", sl.Err(err))
	} else if !charged {
		log.Warn("credit already exhausted after successful edit")
	}
	return &core.Reply{
		Intent:  intent,
		Status:  core.StatusOK,
		Text:    msgEditDone,
		Image:   result,
		Charged: charged && err == nil,
	}
}

// reserve fails with ErrInsufficientCredit when the user has nothing left.
func (p *Pipeline) reserve(ctx context.Context, userId string) error {
	balance, err := p.Credits.GetBalance(ctx, userId)
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	if balance <= 0 {
		return core.ErrInsufficientCredit
	}
	return nil
}

// attempt is one pass of synthesize, invoke and persist.
func (p *Pipeline) attempt(
	ctx context.Context,
	s *storage.SessionMemory,
	base core.ImageRef,
	instruction func(context.Context) string,
) (core.ImageRef, error) {
	prompt := instruction(ctx)
	if prompt == "" {
		return "", core.Validation("empty edit instruction")
	}
	p.log.With(
		slog.String("base", string(base)),
		sl.Text("instruction", prompt),
	).Debug("invoking generator")

	result, err := p.Generator.Generate(ctx, base, prompt)
	if err != nil {
		return "", err
	}
	if result == "" {
		return "", &core.CollaboratorError{Op: "generate", Reason: "empty result", Err: core.ErrInvalidOutputFormat}
	}
	s.LastGeneratedImage = result
	return result, nil
}

// editWithRetry grants a failed attempt exactly one more try after a fixed
// delay. RetryCount is zero before the first attempt and after the outcome.
func (p *Pipeline) editWithRetry(
	ctx context.Context,
	s *storage.SessionMemory,
	run func(context.Context) (core.ImageRef, error),
) (core.ImageRef, error) {
	for {
		result, err := run(ctx)
		if err == nil {
			s.RetryCount = 0
			return result, nil
		}
		if s.RetryCount > 0 {
			s.RetryCount = 0
			return "", err
		}

		s.RetryCount = 1
		p.log.With(
			slog.String("conversation", s.ConversationId),
			slog.Duration("delay", p.retryDelay),
		).Warn("edit attempt failed, retrying", sl.Err(err))

		if err := sleep(ctx, p.retryDelay); err != nil {
			s.RetryCount = 0
			return "", fmt.Errorf("waiting to retry: %w", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
