package storage

import (
	"context"
	"sync"
	"time"
)

type MemoryStorage struct {
	sessions map[string]*SessionMemory
	mutex    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*SessionMemory),
	}
}

func (m *MemoryStorage) GetSession(_ context.Context, conversationId string) (*SessionMemory, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if session, ok := m.sessions[conversationId]; ok {
		return session.Clone(), nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveSession(_ context.Context, session *SessionMemory) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	cc := session.Clone()
	cc.UpdatedAt = time.Now()
	m.sessions[session.ConversationId] = cc
	return nil
}

func (m *MemoryStorage) ClearSession(_ context.Context, conversationId string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, conversationId)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
