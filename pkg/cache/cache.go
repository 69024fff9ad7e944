package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/quanta-social/feedengine/pkg/entities"
)

// Entry is a cached entity value with its bookkeeping fields. Dirty
// entries carry an unconfirmed local mutation and are pinned: they are
// never evicted and never overwritten by version-gated puts until the
// mutation resolves.
type Entry struct {
	Value          interface{}
	InsertedAt     time.Time
	LastAccessedAt time.Time
	Version        int64
	Dirty          bool
}

type key struct {
	kind entities.Kind
	id   string
}

type record struct {
	key   key
	entry Entry
}

// Cache is a bounded, TTL-aware entity store with independent LRU
// ordering per entity kind. Capacity is a soft bound: when every
// evictable entry is dirty, puts still succeed and the kind temporarily
// exceeds its capacity.
type Cache struct {
	mu      sync.Mutex
	caps    map[entities.Kind]int
	ttl     time.Duration
	entries map[key]*list.Element
	order   map[entities.Kind]*list.List

	now func() time.Time
}

func New(caps map[entities.Kind]int, ttl time.Duration) *Cache {
	c := &Cache{
		caps:    make(map[entities.Kind]int, len(caps)),
		ttl:     ttl,
		entries: make(map[key]*list.Element),
		order:   make(map[entities.Kind]*list.List),
		now:     time.Now,
	}
	for kind, cap := range caps {
		c.caps[kind] = cap
		c.order[kind] = list.New()
	}
	return c
}

// Get returns a copy of the entry and refreshes its LRU position.
func (c *Cache) Get(kind entities.Kind, id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key{kind, id}]
	if !ok {
		return Entry{}, false
	}
	rec := el.Value.(*record)
	rec.entry.LastAccessedAt = c.now()
	c.order[kind].MoveToFront(el)
	return rec.entry, true
}

// Put inserts or replaces an entry, gated by version: a put with a
// version less than or equal to the stored version is a no-op, as is a
// put against a dirty entry. Returns whether the value was stored.
func (c *Cache) Put(kind entities.Kind, id string, value interface{}, version int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{kind, id}
	if el, ok := c.entries[k]; ok {
		rec := el.Value.(*record)
		if rec.entry.Dirty || version <= rec.entry.Version {
			return false
		}
		rec.entry.Value = value
		rec.entry.Version = version
		rec.entry.LastAccessedAt = c.now()
		c.order[kind].MoveToFront(el)
		return true
	}

	c.insertLocked(k, Entry{
		Value:          value,
		InsertedAt:     c.now(),
		LastAccessedAt: c.now(),
		Version:        version,
	})
	return true
}

// PutDirty writes a locally mutated value and marks the entry dirty.
// The stored version is kept so a later confirmation or rollback can
// reconcile against it. Missing entries are created at version 0.
func (c *Cache) PutDirty(kind entities.Kind, id string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{kind, id}
	if el, ok := c.entries[k]; ok {
		rec := el.Value.(*record)
		rec.entry.Value = value
		rec.entry.Dirty = true
		rec.entry.LastAccessedAt = c.now()
		c.order[kind].MoveToFront(el)
		return
	}

	c.insertLocked(k, Entry{
		Value:          value,
		InsertedAt:     c.now(),
		LastAccessedAt: c.now(),
		Dirty:          true,
	})
}

// MarkDirty pins an existing entry against eviction and version-gated
// overwrites.
func (c *Cache) MarkDirty(kind entities.Kind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key{kind, id}]
	if !ok {
		return false
	}
	el.Value.(*record).entry.Dirty = true
	return true
}

// ClearDirty resolves a pending mutation: the confirmed value replaces
// the optimistic one, the dirty flag drops and the entry becomes
// evictable again. version is the server-confirmed version for the
// value, or the pre-mutation version on rollback.
func (c *Cache) ClearDirty(kind entities.Kind, id string, confirmed interface{}, version int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key{kind, id}]
	if !ok {
		return false
	}
	rec := el.Value.(*record)
	rec.entry.Value = confirmed
	rec.entry.Version = version
	rec.entry.Dirty = false
	rec.entry.LastAccessedAt = c.now()
	c.order[kind].MoveToFront(el)
	return true
}

// Delete removes an entry unconditionally. Used for locally created
// placeholder entries (pending comments) once they resolve.
func (c *Cache) Delete(kind entities.Kind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{kind, id}
	el, ok := c.entries[k]
	if !ok {
		return false
	}
	c.order[kind].Remove(el)
	delete(c.entries, k)
	return true
}

// EvictIfStale removes non-dirty entries that have not been accessed
// within the TTL. Returns the number of evicted entries.
func (c *Cache) EvictIfStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.ttl)
	evicted := 0
	for _, l := range c.order {
		for el := l.Back(); el != nil; {
			prev := el.Prev()
			rec := el.Value.(*record)
			if !rec.entry.Dirty && rec.entry.LastAccessedAt.Before(cutoff) {
				l.Remove(el)
				delete(c.entries, rec.key)
				evicted++
			}
			el = prev
		}
	}
	return evicted
}

// Len reports the live entry count for a kind.
func (c *Cache) Len(kind entities.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.order[kind]; ok {
		return l.Len()
	}
	return 0
}

// Range calls fn for every entry of a kind, most recently used first,
// until fn returns false. fn must not call back into the cache.
func (c *Cache) Range(kind entities.Kind, fn func(id string, e Entry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.order[kind]
	if !ok {
		return
	}
	for el := l.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*record)
		if !fn(rec.key.id, rec.entry) {
			return
		}
	}
}

// Versions snapshots the stored version of every entry of a kind, used
// as the baseline for a version-diff resync.
func (c *Cache) Versions(kind entities.Kind) map[string]int64 {
	versions := make(map[string]int64)
	c.Range(kind, func(id string, e Entry) bool {
		versions[id] = e.Version
		return true
	})
	return versions
}

func (c *Cache) insertLocked(k key, e Entry) {
	l, ok := c.order[k.kind]
	if !ok {
		l = list.New()
		c.order[k.kind] = l
	}
	if cap, ok := c.caps[k.kind]; ok && l.Len() >= cap {
		c.evictLRULocked(k.kind)
	}
	c.entries[k] = l.PushFront(&record{key: k, entry: e})
}

// evictLRULocked drops the least recently used non-dirty entry of a
// kind. When every entry is dirty nothing is removed and the kind runs
// over capacity until a mutation resolves.
func (c *Cache) evictLRULocked(kind entities.Kind) {
	l := c.order[kind]
	for el := l.Back(); el != nil; el = el.Prev() {
		rec := el.Value.(*record)
		if rec.entry.Dirty {
			continue
		}
		l.Remove(el)
		delete(c.entries, rec.key)
		return
	}
}
