package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
)

// LocalStore is a thread-safe LRU session store with TTL support.
// Used as the Community tier store; one instance per process, so it is
// only suitable when a single gateway owns all conversations.
type LocalStore struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List
}

type sessionEntry struct {
	conversationID string
	cc             *domain.CaseContext
	expiresAt      time.Time
}

// NewLocalStore creates a local store with the specified capacity and
// idle TTL.
func NewLocalStore(maxSize int, ttl time.Duration) *LocalStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LocalStore{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves the context for a conversation, or nil if absent or
// expired.
func (s *LocalStore) Get(ctx context.Context, conversationID string) (*domain.CaseContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[conversationID]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*sessionEntry)
	if time.Now().After(entry.expiresAt) {
		s.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	s.order.MoveToFront(elem)
	return entry.cc, nil
}

// Put stores the context and refreshes its TTL.
func (s *LocalStore) Put(ctx context.Context, cc *domain.CaseContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[cc.ConversationID]; ok {
		s.order.MoveToFront(elem)
		entry := elem.Value.(*sessionEntry)
		entry.cc = cc
		entry.expiresAt = time.Now().Add(s.ttl)
		return nil
	}

	entry := &sessionEntry{
		conversationID: cc.ConversationID,
		cc:             cc,
		expiresAt:      time.Now().Add(s.ttl),
	}
	elem := s.order.PushFront(entry)
	s.items[cc.ConversationID] = elem

	// Evict if over capacity
	for s.order.Len() > s.maxSize {
		s.removeOldest()
	}

	return nil
}

// Delete discards the context for a conversation.
func (s *LocalStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[conversationID]; ok {
		s.removeElement(elem)
	}
	return nil
}

// Ping always succeeds for the local store.
func (s *LocalStore) Ping(ctx context.Context) error {
	return nil
}

// Close clears the store.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Len returns the number of live sessions.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *LocalStore) removeOldest() {
	if elem := s.order.Back(); elem != nil {
		s.removeElement(elem)
	}
}

func (s *LocalStore) removeElement(elem *list.Element) {
	entry := elem.Value.(*sessionEntry)
	s.order.Remove(elem)
	delete(s.items, entry.conversationID)
}
