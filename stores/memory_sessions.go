package stores

import (
	"context"
	"sync"

	"github.com/oarkflow/rowguard"
)

// MemorySessionSource resolves principals from an in-memory map.
type MemorySessionSource struct {
	mu       sync.RWMutex
	sessions map[string]*rowguard.StaticSession
}

func NewMemorySessionSource() *MemorySessionSource {
	return &MemorySessionSource{sessions: make(map[string]*rowguard.StaticSession)}
}

func (s *MemorySessionSource) Put(sess *rowguard.StaticSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *MemorySessionSource) Lookup(ctx context.Context, userID string) (rowguard.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, rowguard.ErrNotFound
	}
	return sess, nil
}
