package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/rowguard"
)

// RedisSessionSource resolves principals from Redis hashes
// (key: session:{userID}). The hash holds "roles" as a comma list and any
// other field becomes a session property; values that parse as JSON keep
// their decoded type so numeric properties compare correctly in conditions.
type RedisSessionSource struct {
	client *redis.Client
	keyFmt string // format string, e.g. "session:%s"
}

func NewRedisSessionSource(client *redis.Client) *RedisSessionSource {
	return &RedisSessionSource{client: client, keyFmt: "session:%s"}
}

func (r *RedisSessionSource) key(userID string) string {
	return fmt.Sprintf(r.keyFmt, userID)
}

func (r *RedisSessionSource) Lookup(ctx context.Context, userID string) (rowguard.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, rowguard.ErrNotFound
	}
	sess := &rowguard.StaticSession{ID: userID, Props: make(map[string]any)}
	for k, v := range fields {
		if k == "roles" {
			if v != "" {
				sess.RoleList = strings.Split(v, ",")
			}
			continue
		}
		sess.Props[k] = decodeProp(v)
	}
	return sess, nil
}

// Save writes a session hash, the inverse of Lookup. Mostly used by tests
// and provisioning tools.
func (r *RedisSessionSource) Save(ctx context.Context, sess *rowguard.StaticSession) error {
	fields := map[string]any{"roles": strings.Join(sess.RoleList, ",")}
	for k, v := range sess.Props {
		switch v.(type) {
		case string:
			fields[k] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			fields[k] = string(b)
		}
	}
	return r.client.HSet(ctx, r.key(sess.ID), fields).Err()
}

func decodeProp(v string) any {
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		switch decoded.(type) {
		case float64, bool:
			return decoded
		}
	}
	return v
}
