package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()

	got, err := m.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := NewSessionMemory("c1")
	s.Append(NewMessage(RoleUser, "hello"))
	s.LastGeneratedImage = "https://cdn/g.jpg"
	require.NoError(t, m.SaveSession(ctx, s))

	got, err = m.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.LastGeneratedImage, got.LastGeneratedImage)
	require.Len(t, got.History, 1)

	// stored copy is isolated from the caller
	s.Append(NewMessage(RoleUser, "not saved"))
	got, _ = m.GetSession(ctx, "c1")
	assert.Len(t, got.History, 1)

	require.NoError(t, m.ClearSession(ctx, "c1"))
	got, _ = m.GetSession(ctx, "c1")
	assert.Nil(t, got)
}

func TestMemoryCreditStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCreditStorage(2)

	balance, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, balance)

	ok, err := m.Decrement(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = m.Decrement(ctx, "u1")
	assert.True(t, ok)
	ok, _ = m.Decrement(ctx, "u1")
	assert.False(t, ok)

	balance, _ = m.GetBalance(ctx, "u1")
	assert.Equal(t, 0, balance)

	balance, _ = m.GetBalance(ctx, "u2")
	assert.Equal(t, 2, balance, "other users start from the initial grant")
}
