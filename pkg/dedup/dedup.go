// Package dedup drops redelivered bus messages inside a TTL window.
package dedup

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max)}
}

// KeyFor builds a dedup key from an entity id and its raw payload, so a
// broker redelivery of the same change collapses to one key.
func KeyFor(entityID string, payload []byte) string {
	h := sha1.Sum(payload)
	return entityID + ":" + hex.EncodeToString(h[:8])
}

// ShouldProcess reports whether id has not been seen within the TTL and
// records it. Empty ids are always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
		if len(d.seen) <= d.max {
			return
		}
	}
}
