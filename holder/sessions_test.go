package holder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Retoucher/storage"
)

func newTestManager(t *testing.T) (*SessionManager, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	sm := NewSessionManager(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(sm.Shutdown)
	return sm, store
}

func TestWithSessionCreatesAndSaves(t *testing.T) {
	sm, store := newTestManager(t)
	ctx := context.Background()

	err := sm.WithSession(ctx, "c1", func(s *storage.SessionMemory) error {
		assert.Equal(t, "c1", s.ConversationId)
		assert.Empty(t, s.History)
		s.Append(storage.NewMessage(storage.RoleUser, "bonjour"))
		return nil
	})
	require.NoError(t, err)

	saved, err := store.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.Len(t, saved.History, 1)
	assert.Equal(t, "bonjour", saved.History[0].Text)
}

func TestWithSessionSavesOnError(t *testing.T) {
	sm, store := newTestManager(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := sm.WithSession(ctx, "c1", func(s *storage.SessionMemory) error {
		s.RetryCount = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)

	saved, err := store.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.RetryCount)
}

func TestWithSessionSerializesConversation(t *testing.T) {
	sm, store := newTestManager(t)
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sm.WithSession(ctx, "same", func(s *storage.SessionMemory) error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				s.Append(storage.NewMessage(storage.RoleUser, "x"))
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	saved, err := store.GetSession(ctx, "same")
	require.NoError(t, err)
	assert.Len(t, saved.History, 20, "no update lost")
}

func TestWithSessionHonorsContextWhileWaiting(t *testing.T) {
	sm, _ := newTestManager(t)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = sm.WithSession(context.Background(), "c1", func(s *storage.SessionMemory) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sm.WithSession(ctx, "c1", func(s *storage.SessionMemory) error {
		t.Error("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}

func TestExclusiveSerializesKeyAcrossConversations(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sm.WithSession(ctx, id, func(s *storage.SessionMemory) error {
				return sm.Exclusive(ctx, "credits:u1", func() error {
					n := inFlight.Add(1)
					for {
						m := maxInFlight.Load()
						if n <= m || maxInFlight.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					inFlight.Add(-1)
					return nil
				})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestExclusiveReturnsFnError(t *testing.T) {
	sm, _ := newTestManager(t)
	fail := errors.New("boom")
	assert.ErrorIs(t, sm.Exclusive(context.Background(), "credits:u1", func() error { return fail }), fail)
}

func TestClearRemovesSession(t *testing.T) {
	sm, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.WithSession(ctx, "c1", func(s *storage.SessionMemory) error {
		s.LastGeneratedImage = "https://out/1.png"
		return nil
	}))
	require.NoError(t, sm.Clear(ctx, "c1"))

	saved, err := store.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestCleanupIdleLocks(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.WithSession(ctx, "old", func(*storage.SessionMemory) error { return nil }))
	require.NoError(t, sm.WithSession(ctx, "fresh", func(*storage.SessionMemory) error { return nil }))
	assert.Equal(t, 2, sm.Count())

	sm.mu.Lock()
	sm.locks["old"].lastActivity = time.Now().Add(-lockIdleTimeout - time.Minute)
	sm.mu.Unlock()

	sm.cleanupIdleLocks(time.Now())
	assert.Equal(t, 1, sm.Count())
}
