// Package amocache implements the server-side At-Most-Once reply cache
// (spec.md §4.3): a (clientId, requestId) -> reply-bytes map with TTL
// eviction, plus the per-key execution guard spec.md §9 recommends so that
// concurrent retries of the same request never execute the banking
// operation twice (spec.md §5's AMO invariant).
package amocache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the default entry lifetime (spec.md §3: "default 5
// minutes"). Callers needing the ~16s worst-case retry window spec.md §4.3
// describes can use a shorter TTL; the test suite treats TTL as a
// configurable parameter.
const DefaultTTL = 5 * time.Minute

// key identifies one cached reply.
type key struct {
	clientID  uint32
	requestID uint64
}

func (k key) String() string {
	return fmt.Sprintf("%d:%d", k.clientID, k.requestID)
}

// Cache is safe for concurrent Lookup and Store from multiple dispatcher
// goroutines.
type Cache struct {
	entries *lru.LRU[key, []byte]
	inFlight singleflight.Group

	mu      sync.Mutex
	hits    uint64
	misses  uint64
}

// New returns a Cache whose entries expire ttl after insertion. size bounds
// the number of (clientId, requestId) entries held at once, evicting the
// least recently used past it (an implementation ceiling, not a spec
// requirement); 0 or less means a ceiling of 1<<20 entries.
func New(ttl time.Duration, size int) *Cache {
	if size <= 0 {
		size = 1 << 20
	}
	return &Cache{entries: lru.NewLRU[key, []byte](size, nil, ttl)}
}

// Lookup returns the cached reply for (clientID, requestID) and true if
// present and unexpired. An expired entry is reported as a miss; the
// underlying expirable LRU removes expired entries on its own background
// timer, not on access.
func (c *Cache) Lookup(clientID uint32, requestID uint64) ([]byte, bool) {
	v, ok := c.entries.Get(key{clientID, requestID})
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return v, ok
}

// Store overwrites any prior entry for (clientID, requestID) with
// replyBytes, per spec.md §4.3.
func (c *Cache) Store(clientID uint32, requestID uint64, replyBytes []byte) {
	c.entries.Add(key{clientID, requestID}, replyBytes)
}

// Sweep reads the cache's key list and removes nothing itself: the
// expirable LRU has no explicit sweep API, and Keys() only skips expired
// entries. Expired entries are removed by the LRU's own background timer,
// which bounds memory for keys nobody looks up again.
func (c *Cache) Sweep() {
	c.entries.Keys()
}

// Execute runs fn for (clientID, requestID) at most once across any number
// of concurrent callers racing the same key, returning fn's result to every
// caller. This is the per-key in-flight marker spec.md §9 describes as an
// alternative to serializing the whole dispatcher: callers that observe an
// in-progress execution block on it instead of re-running fn or blocking
// unrelated keys.
func (c *Cache) Execute(clientID uint32, requestID uint64, fn func() ([]byte, error)) ([]byte, error, bool) {
	k := key{clientID, requestID}.String()
	v, err, shared := c.inFlight.Do(k, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err, shared
	}
	return v.([]byte), nil, shared
}

// ExecuteAny is Execute generalized to return an arbitrary result, for
// callers (like the dispatcher) whose per-request work produces more than
// just reply bytes. It shares the same in-flight group and guarantee:
// concurrent callers racing the same key see fn run at most once and all
// receive the same returned value.
func (c *Cache) ExecuteAny(clientID uint32, requestID uint64, fn func() (any, error)) (any, error, bool) {
	k := key{clientID, requestID}.String()
	return c.inFlight.Do(k, fn)
}

// HitRate returns the fraction of Lookup calls that were hits, for metrics.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Counts returns the raw hit/miss counters, for metrics.
func (c *Cache) Counts() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of currently tracked entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
