package assistant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"Retoucher/ai"
	"Retoucher/core"
	"Retoucher/holder"
	"Retoucher/storage"
)

type classifierModel struct {
	answer string
	err    error
}

func (c *classifierModel) Complete(context.Context, string, []ai.Message) (string, error) {
	return c.answer, c.err
}

type echoSynthesizer struct {
	mu    sync.Mutex
	texts []string
}

func (e *echoSynthesizer) Synthesize(_ context.Context, text string, _ []storage.Message) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	return "instruction: " + text
}

type fakeResponder struct {
	respond []string
	clarify []string
	err     error
}

func (f *fakeResponder) Respond(_ context.Context, text string, _ []storage.Message) (string, error) {
	f.respond = append(f.respond, text)
	return "réponse", f.err
}

func (f *fakeResponder) Clarify(_ context.Context, text string, _ []storage.Message) (string, error) {
	f.clarify = append(f.clarify, text)
	return "pouvez-vous préciser ?", f.err
}

type fakeAnalyzer struct {
	analysis  *ai.Analysis
	err       error
	inspected []core.ImageRef
	described []core.ImageRef
}

func (f *fakeAnalyzer) Describe(_ context.Context, ref core.ImageRef, _ string) (string, error) {
	f.described = append(f.described, ref)
	return "description", f.err
}

func (f *fakeAnalyzer) Inspect(_ context.Context, ref core.ImageRef) (*ai.Analysis, error) {
	f.inspected = append(f.inspected, ref)
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type generation struct {
	base        core.ImageRef
	instruction string
}

type outcome struct {
	ref core.ImageRef
	err error
}

// scriptedGenerator plays queued outcomes, then succeeds with numbered urls.
type scriptedGenerator struct {
	mu       sync.Mutex
	delay    time.Duration
	outcomes []outcome
	calls    []generation
}

func (g *scriptedGenerator) Generate(_ context.Context, base core.ImageRef, instruction string) (core.ImageRef, error) {
	time.Sleep(g.delay)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generation{base: base, instruction: instruction})
	if len(g.outcomes) > 0 {
		next := g.outcomes[0]
		g.outcomes = g.outcomes[1:]
		return next.ref, next.err
	}
	return core.ImageRef(fmt.Sprintf("https://out/%d.png", len(g.calls))), nil
}

type fakeUploader struct {
	count int
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, data []byte) (core.ImageRef, error) {
	if f.err != nil {
		return "", f.err
	}
	f.count++
	return core.ImageRef(fmt.Sprintf("https://s3/upload-%d.jpg", f.count)), nil
}

// countingCredits counts successful decrements.
type countingCredits struct {
	*storage.MemoryCreditStorage
	decrements int
}

func (c *countingCredits) Decrement(ctx context.Context, userId string) (bool, error) {
	ok, err := c.MemoryCreditStorage.Decrement(ctx, userId)
	if ok {
		c.decrements++
	}
	return ok, err
}

// brokenCredits fails or refuses on demand.
type brokenCredits struct {
	balance      int
	balanceErr   error
	decrementOk  bool
	decrementErr error
	decrements   int
}

func (b *brokenCredits) GetBalance(context.Context, string) (int, error) {
	return b.balance, b.balanceErr
}

func (b *brokenCredits) Decrement(context.Context, string) (bool, error) {
	b.decrements++
	return b.decrementOk, b.decrementErr
}

func (b *brokenCredits) Close() error {
	return nil
}

type harness struct {
	pipeline  *Pipeline
	store     *storage.MemoryStorage
	credits   *countingCredits
	model     *classifierModel
	synth     *echoSynthesizer
	responder *fakeResponder
	analyzer  *fakeAnalyzer
	generator *scriptedGenerator
	uploader  *fakeUploader
}

const (
	testUser         = "u1"
	testConversation = "c1"
)

func newHarness(t *testing.T, initialCredits int) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStorage()
	sessions := holder.NewSessionManager(store, log)
	t.Cleanup(sessions.Shutdown)

	h := &harness{
		store:     store,
		credits:   &countingCredits{MemoryCreditStorage: storage.NewMemoryCreditStorage(initialCredits)},
		model:     &classifierModel{answer: "conversation"},
		synth:     &echoSynthesizer{},
		responder: &fakeResponder{},
		analyzer:  &fakeAnalyzer{analysis: &ai.Analysis{Summary: "Cuisine sombre", Issues: []string{"vaisselle dans l'évier", "éclairage insuffisant"}}},
		generator: &scriptedGenerator{},
		uploader:  &fakeUploader{},
	}
	h.pipeline = NewPipeline(sessions, Collaborators{
		Classifier:  ai.NewIntentClassifier(h.model, log),
		Synthesizer: h.synth,
		Responder:   h.responder,
		Analyzer:    h.analyzer,
		Generator:   h.generator,
		Uploader:    h.uploader,
		Credits:     h.credits,
	}, time.Millisecond, log)
	return h
}

func (h *harness) send(t *testing.T, text string, withImage bool) *core.Reply {
	t.Helper()
	return h.sendTo(t, testConversation, text, withImage)
}

func (h *harness) sendTo(t *testing.T, conversationId, text string, withImage bool) *core.Reply {
	t.Helper()
	in := core.Input{ConversationId: conversationId, UserId: testUser, Text: text}
	if withImage {
		in.Image = &core.Attachment{Data: []byte("jpeg")}
	}
	reply, err := h.pipeline.HandleMessage(context.Background(), in)
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	return reply
}

func (h *harness) session(t *testing.T) *storage.SessionMemory {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), testConversation)
	if err != nil || s == nil {
		t.Fatalf("session not saved: %v", err)
	}
	return s
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	b, err := h.credits.GetBalance(context.Background(), testUser)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}
