package ingestion

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore is the shared second dedup tier, consulted on LRU misses so
// replicas and restarts do not re-apply redelivered prices.
type SeenStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

// Deduplicator implements two-tier duplicate suppression for price messages.
type Deduplicator struct {
	mu   sync.Mutex
	lru  *KeyLRU
	seen SeenStore

	lruHits    int64
	storeHits  int64
	storeFails int64
}

func NewDeduplicator(capacity int, seen SeenStore) *Deduplicator {
	return &Deduplicator{lru: NewKeyLRU(capacity), seen: seen}
}

// IsDuplicate checks the LRU, then the shared store. A store failure is
// treated as not seen: the circuit breaker and the sequence guard still
// bound the effect of a replayed price.
func (d *Deduplicator) IsDuplicate(ctx context.Context, key string) bool {
	d.mu.Lock()
	if d.lru.Contains(key) {
		d.lruHits++
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	if d.seen == nil {
		return false
	}
	dup, err := d.seen.Seen(ctx, key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.storeFails++
		return false
	}
	if dup {
		d.storeHits++
		d.lru.Add(key)
	}
	return dup
}

// MarkProcessed records key in both tiers after the message was handled.
func (d *Deduplicator) MarkProcessed(ctx context.Context, key string) error {
	d.mu.Lock()
	d.lru.Add(key)
	d.mu.Unlock()
	if d.seen == nil {
		return nil
	}
	return d.seen.MarkSeen(ctx, key)
}

// DedupStats is a point-in-time copy of the dedup counters.
type DedupStats struct {
	LRUHits    int64
	StoreHits  int64
	StoreFails int64
	Size       int
	Evictions  int64
}

func (d *Deduplicator) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DedupStats{
		LRUHits:    d.lruHits,
		StoreHits:  d.storeHits,
		StoreFails: d.storeFails,
		Size:       d.lru.Size(),
		Evictions:  d.lru.Evictions(),
	}
}

// --- LRU ---

// KeyLRU is a bounded set of recently seen keys. Not thread-safe.
type KeyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List

	evictions int64
}

func NewKeyLRU(capacity int) *KeyLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &KeyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports membership and promotes the key.
func (l *KeyLRU) Contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts or promotes key, evicting the least recently used entry.
func (l *KeyLRU) Add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return
	}
	l.cache[key] = l.order.PushFront(key)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.cache, oldest.Value.(string))
		l.evictions++
	}
}

// Warm loads keys oldest first so the newest end up most recent.
func (l *KeyLRU) Warm(keys []string) {
	for _, k := range keys {
		l.Add(k)
	}
}

func (l *KeyLRU) Size() int        { return l.order.Len() }
func (l *KeyLRU) Evictions() int64 { return l.evictions }

// --- Redis tier ---

// RedisSeenStore keeps dedup keys in Redis with a TTL.
type RedisSeenStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSeenStore(rdb *redis.Client, ttl time.Duration) *RedisSeenStore {
	return &RedisSeenStore{rdb: rdb, prefix: "perprisk:price_seen:", ttl: ttl}
}

func (s *RedisSeenStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisSeenStore) MarkSeen(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, s.prefix+key, 1, s.ttl).Err()
}
