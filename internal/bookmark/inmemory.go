package bookmark

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process bookmark store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]Bookmark
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byKey: make(map[string]Bookmark)}
}

func key(userID, document string) string {
	return userID + "\x00" + document
}

func (s *InMemoryStore) Save(_ context.Context, b Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		if prev, ok := s.byKey[key(b.UserID, b.Document)]; ok {
			b.ID = prev.ID
		} else {
			b.ID = uuid.NewString()
		}
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.byKey[key(b.UserID, b.Document)] = b
	return nil
}

func (s *InMemoryStore) Latest(_ context.Context, userID, document string) (Bookmark, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byKey[key(userID, document)]
	return b, ok, nil
}

func (s *InMemoryStore) List(_ context.Context, userID string, limit int) ([]Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Bookmark
	for _, b := range s.byKey {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
