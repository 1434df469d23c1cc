package repository

import (
	"context"
	"sync"

	"expense-bot/internal/domain"
)

// MemoryPendingStore keeps pending expenses for the lifetime of the process.
// A restart drops every unconfirmed expense.
type MemoryPendingStore struct {
	mu    sync.RWMutex
	items map[string]domain.PendingExpense
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{items: make(map[string]domain.PendingExpense)}
}

func (s *MemoryPendingStore) Get(_ context.Context, conversationID string) (domain.PendingExpense, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[conversationID]
	return p, ok, nil
}

func (s *MemoryPendingStore) Put(_ context.Context, p domain.PendingExpense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.ConversationID] = p
	return nil
}

func (s *MemoryPendingStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, conversationID)
	return nil
}

func (s *MemoryPendingStore) Claim(_ context.Context, conversationID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[conversationID]
	if !ok || p.Token != token {
		return false, nil
	}
	delete(s.items, conversationID)
	return true, nil
}

// Len reports how many conversations currently await confirmation.
func (s *MemoryPendingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
