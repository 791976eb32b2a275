package holder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Retoucher/lib/sl"
	"Retoucher/storage"
)

const (
	lockIdleTimeout = 1 * time.Hour
	cleanupInterval = 10 * time.Minute
)

// conversationLock serializes runs of one conversation. The channel is a
// one-slot semaphore so that waiting respects context cancellation.
type conversationLock struct {
	sem          chan struct{}
	waiters      int
	lastActivity time.Time
}

// SessionManager loads, hands out and saves session memory so that at most
// one pipeline run per conversation is in flight. Runs for different
// conversations proceed concurrently.
type SessionManager struct {
	storage       storage.SessionStorage
	mu            sync.Mutex
	locks         map[string]*conversationLock
	log           *slog.Logger
	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

func NewSessionManager(store storage.SessionStorage, log *slog.Logger) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		storage:       store,
		locks:         make(map[string]*conversationLock),
		log:           log.With(sl.Module("sessions")),
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}
	go sm.cleanupLoop(ctx)
	return sm
}

// WithSession runs fn on the session of the conversation while holding its
// lock. A new session is created for unknown conversations. The session is
// saved after fn returns, whether or not fn failed.
func (sm *SessionManager) WithSession(ctx context.Context, conversationId string, fn func(*storage.SessionMemory) error) error {
	release, err := sm.lock(ctx, conversationId)
	if err != nil {
		return err
	}
	defer release()

	session, err := sm.storage.GetSession(ctx, conversationId)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if session == nil {
		session = storage.NewSessionMemory(conversationId)
	}

	runErr := fn(session)

	// persist even if the caller's context is gone; the run already happened
	saveCtx := context.WithoutCancel(ctx)
	if err := sm.storage.SaveSession(saveCtx, session); err != nil {
		sm.log.With(slog.String("conversation", conversationId)).Error("saving session", sl.Err(err))
		return errors.Join(runErr, fmt.Errorf("saving session: %w", err))
	}
	return runErr
}

// Clear discards the session memory of the conversation.
func (sm *SessionManager) Clear(ctx context.Context, conversationId string) error {
	release, err := sm.lock(ctx, conversationId)
	if err != nil {
		return err
	}
	defer release()
	return sm.storage.ClearSession(ctx, conversationId)
}

// Exclusive runs fn while holding the lock of key. Keys share one lock table
// with conversation ids, so callers prefix them.
func (sm *SessionManager) Exclusive(ctx context.Context, key string, fn func() error) error {
	release, err := sm.lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Count returns the number of keys with a tracked lock.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.locks)
}

// Shutdown stops the cleanup goroutine and waits for it to finish.
func (sm *SessionManager) Shutdown() {
	if sm.cancelCleanup != nil {
		sm.cancelCleanup()
		<-sm.cleanupDone
	}
}

func (sm *SessionManager) lock(ctx context.Context, conversationId string) (func(), error) {
	sm.mu.Lock()
	cl, ok := sm.locks[conversationId]
	if !ok {
		cl = &conversationLock{sem: make(chan struct{}, 1)}
		sm.locks[conversationId] = cl
	}
	cl.waiters++
	cl.lastActivity = time.Now()
	sm.mu.Unlock()

	done := func() {
		sm.mu.Lock()
		cl.waiters--
		cl.lastActivity = time.Now()
		sm.mu.Unlock()
	}

	select {
	case cl.sem <- struct{}{}:
	case <-ctx.Done():
		done()
		return nil, ctx.Err()
	}
	return func() {
		<-cl.sem
		done()
	}, nil
}

func (sm *SessionManager) cleanupLoop(ctx context.Context) {
	defer close(sm.cleanupDone)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupIdleLocks(time.Now())
		}
	}
}

// cleanupIdleLocks forgets locks nobody holds or waits for.
func (sm *SessionManager) cleanupIdleLocks(now time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, cl := range sm.locks {
		if cl.waiters == 0 && now.Sub(cl.lastActivity) > lockIdleTimeout {
			delete(sm.locks, id)
			removed++
		}
	}
	if removed > 0 {
		sm.log.Debug("idle locks removed", slog.Int("count", removed), slog.Int("remaining", len(sm.locks)))
	}
}
