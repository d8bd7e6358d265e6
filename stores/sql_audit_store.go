package stores

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/squealx"
)

// SQLAuditStore persists gate decisions in SQL.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *rowguard.AuditEntry) error {
	metaB, _ := json.Marshal(entry.Metadata)
	id := entry.ID
	if id == "" {
		id = newEntryID()
	}
	allowed := 0
	matchedBy := ""
	reason := ""
	if entry.Decision != nil {
		allowed = boolToInt(entry.Decision.Allowed)
		matchedBy = entry.Decision.MatchedBy
		reason = entry.Decision.Reason
	}
	q := `INSERT INTO access_log(id, timestamp, user_id, table_name, action, allowed, matched_by, reason, trace_id, metadata_json) VALUES(:id, :timestamp, :user_id, :table_name, :action, :allowed, :matched_by, :reason, :trace_id, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            id,
		"timestamp":     entry.Timestamp,
		"user_id":       entry.UserID,
		"table_name":    entry.Table,
		"action":        string(entry.Action),
		"allowed":       allowed,
		"matched_by":    matchedBy,
		"reason":        reason,
		"trace_id":      entry.TraceID,
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter rowguard.AuditFilter) ([]*rowguard.AuditEntry, error) {
	q := `SELECT id, timestamp, user_id, table_name, action, allowed, matched_by, reason, trace_id, metadata_json FROM access_log WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.Table != "" {
		q += " AND table_name = :table_name"
		params["table_name"] = filter.Table
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rowguard.AuditEntry, 0)
	for r.Next() {
		var id, userID, tableName, action, matchedBy, reason, traceID, metaJSON string
		var timestampRaw interface{}
		var allowedInt int
		if err := r.Scan(&id, &timestampRaw, &userID, &tableName, &action, &allowedInt, &matchedBy, &reason, &traceID, &metaJSON); err != nil {
			return nil, err
		}
		entry := &rowguard.AuditEntry{
			ID:      id,
			UserID:  userID,
			Table:   tableName,
			Action:  rowguard.Action(action),
			TraceID: traceID,
			Decision: &rowguard.Decision{
				Allowed:   allowedInt != 0,
				MatchedBy: matchedBy,
				Reason:    reason,
			},
		}
		switch v := timestampRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}

func newEntryID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
