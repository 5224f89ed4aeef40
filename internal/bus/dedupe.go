package bus

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultDedupeTTL is how long a fingerprint is remembered.
	DefaultDedupeTTL = 20 * time.Minute

	// DefaultDedupeMax caps the number of tracked fingerprints.
	DefaultDedupeMax = 5000
)

type dedupeEntry struct {
	key    string
	seenAt time.Time
}

// DedupeCache remembers recently processed event fingerprints so replays from
// a reconnecting daemon are dropped. Bounded by age and count; lookups and
// inserts are O(1). Safe for concurrent use: Seen is a single check-and-set.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	order   *list.List // front = most recently seen
	entries map[string]*list.Element
	now     func() time.Time
}

// NewDedupeCache creates a cache. Non-positive ttl or max fall back to the defaults.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if max <= 0 {
		max = DefaultDedupeMax
	}
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Seen reports whether key was already registered within the TTL, and
// registers it if not. The first occurrence of a key always returns false.
// An empty key is never considered a duplicate.
func (d *DedupeCache) Seen(key string) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	if el, ok := d.entries[key]; ok {
		el.Value.(*dedupeEntry).seenAt = now
		d.order.MoveToFront(el)
		return true
	}

	d.entries[key] = d.order.PushFront(&dedupeEntry{key: key, seenAt: now})
	for d.order.Len() > d.max {
		d.removeLocked(d.order.Back())
	}
	return false
}

// Reset forgets every fingerprint.
func (d *DedupeCache) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order.Init()
	d.entries = make(map[string]*list.Element)
}

// Len returns the number of tracked fingerprints.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// pruneLocked drops expired entries from the tail. Amortized O(1): each entry
// is removed at most once.
func (d *DedupeCache) pruneLocked(now time.Time) {
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		if now.Sub(el.Value.(*dedupeEntry).seenAt) < d.ttl {
			return
		}
		d.removeLocked(el)
	}
}

func (d *DedupeCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.entries, el.Value.(*dedupeEntry).key)
}
