package rowguard

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// AUDIT
// ============================================================================

// AuditEntry records one capability-gate decision.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Table     string         `json:"table"`
	Action    Action         `json:"action"`
	Decision  *Decision      `json:"decision"`
	TraceID   string         `json:"trace_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GetTraceID returns the correlation id, falling back to metadata.
func (e *AuditEntry) GetTraceID() string {
	if e.TraceID != "" {
		return e.TraceID
	}
	if e.Metadata != nil {
		if v, ok := e.Metadata["trace_id"].(string); ok {
			return v
		}
	}
	return ""
}

// AuditFilter narrows audit log queries.
type AuditFilter struct {
	UserID    string
	Table     string
	Action    Action
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// AuditStore persists gate decisions.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// MemoryAuditStore keeps entries in memory, mostly for tests and examples.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.Table != "" && entry.Table != filter.Table {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
