package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/oarkflow/rowguard"
)

// MemoryRowStore keeps rows in memory per table. Compiled filters are
// evaluated row by row through filter.Matches; masking is left to the
// engine. Useful for tests, examples and small embedded setups.
type MemoryRowStore struct {
	mu     sync.RWMutex
	tables map[string][]rowguard.Row
}

func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{tables: make(map[string][]rowguard.Row)}
}

func (s *MemoryRowStore) Select(ctx context.Context, table string, columns []string, filter *rowguard.RowFilter) ([]rowguard.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rowguard.Row, 0)
	for _, row := range s.tables[table] {
		ok, err := filter.Matches(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryRowStore) Insert(ctx context.Context, table string, row rowguard.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := make(rowguard.Row, len(row))
	for k, v := range row {
		dup[k] = v
	}
	s.tables[table] = append(s.tables[table], dup)
	return nil
}

func (s *MemoryRowStore) Update(ctx context.Context, table string, changes rowguard.Row, filter *rowguard.RowFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, row := range s.tables[table] {
		ok, err := filter.Matches(row)
		if err != nil {
			return affected, err
		}
		if !ok {
			continue
		}
		for k, v := range changes {
			row[k] = v
		}
		affected++
	}
	return affected, nil
}

func (s *MemoryRowStore) Delete(ctx context.Context, table string, filter *rowguard.RowFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]rowguard.Row, 0, len(s.tables[table]))
	var affected int64
	for _, row := range s.tables[table] {
		ok, err := filter.Matches(row)
		if err != nil {
			return affected, err
		}
		if ok {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return affected, nil
}

// Count returns the raw row count of a table, ignoring any policy. Intended
// for tests asserting what actually reached storage.
func (s *MemoryRowStore) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Seed inserts rows directly, bypassing enforcement. Test helper.
func (s *MemoryRowStore) Seed(table string, rows ...rowguard.Row) {
	for _, row := range rows {
		if err := s.Insert(context.Background(), table, row); err != nil {
			panic(fmt.Sprintf("seed %s: %v", table, err))
		}
	}
}
