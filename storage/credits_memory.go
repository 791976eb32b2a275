package storage

import (
	"context"
	"sync"
)

// MemoryCreditStorage is an in-memory implementation of CreditStorage
type MemoryCreditStorage struct {
	balances map[string]int
	initial  int
	mutex    sync.Mutex
}

func NewMemoryCreditStorage(initial int) *MemoryCreditStorage {
	return &MemoryCreditStorage{
		balances: make(map[string]int),
		initial:  initial,
	}
}

func (m *MemoryCreditStorage) GetBalance(_ context.Context, userId string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.balance(userId), nil
}

func (m *MemoryCreditStorage) Decrement(_ context.Context, userId string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	current := m.balance(userId)
	if current <= 0 {
		return false, nil
	}
	m.balances[userId] = current - 1
	return true, nil
}

func (m *MemoryCreditStorage) balance(userId string) int {
	if credits, ok := m.balances[userId]; ok {
		return credits
	}
	m.balances[userId] = m.initial
	return m.initial
}

func (m *MemoryCreditStorage) Close() error {
	return nil
}
