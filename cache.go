package rowguard

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// decisionCache memoizes gate decisions per principal/table/action. Keys
// embed the snapshot generation and the session role set, so a schema reload
// or a role change can never serve a stale decision, and two principals
// never share an entry.
type decisionCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

const (
	defaultCacheCounters = 100_000
	defaultCacheMaxCost  = 10_000
	defaultCacheBuffer   = 64
	defaultCacheTTL      = time.Second
)

func newDecisionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) (*decisionCache, error) {
	if numCounters <= 0 {
		numCounters = defaultCacheCounters
	}
	if maxCost <= 0 {
		maxCost = defaultCacheMaxCost
	}
	if bufferItems <= 0 {
		bufferItems = defaultCacheBuffer
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &decisionCache{c: c, ttl: ttl}, nil
}

func (dc *decisionCache) get(key string) (*Decision, bool) {
	v, ok := dc.c.Get(key)
	if !ok {
		return nil, false
	}
	dec, ok := v.(*Decision)
	return dec, ok
}

func (dc *decisionCache) set(key string, d *Decision) {
	dc.c.SetWithTTL(key, d, 1, dc.ttl)
}

func (dc *decisionCache) clear() {
	dc.c.Clear()
}

func (dc *decisionCache) close() {
	dc.c.Close()
}
