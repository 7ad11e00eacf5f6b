// Package moisture holds the sensor cache and the gradient analysis that
// turns probe depth readings into per-zone watering factors.
package moisture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

var (
	// ErrNoData means no live reading and no usable cached value exist.
	ErrNoData = errors.New("no sensor data")
)

// DefaultStaleness is how old a cached reading may be before it is
// treated as missing.
const DefaultStaleness = 120 * time.Minute

// SensorCache serves last-known-good values for polled entities. A live
// numeric read refreshes the cache; an unavailable entity serves the
// cached value with retained=true. A reading never degrades to zero.
type SensorCache struct {
	client entity.Client
	db     *store.DB
	stale  time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[model.EntityRef]model.SensorCacheEntry
	// asleep lists entities whose owner probe is known to be sleeping;
	// those always serve from cache because the firmware briefly reports
	// 0 around sleep transitions.
	asleep map[model.EntityRef]bool
}

// NewSensorCache builds a cache over client, restoring the snapshot from
// db when present. db may be nil in tests.
func NewSensorCache(client entity.Client, db *store.DB, stale time.Duration) (*SensorCache, error) {
	if stale <= 0 {
		stale = DefaultStaleness
	}
	c := &SensorCache{
		client:  client,
		db:      db,
		stale:   stale,
		now:     time.Now,
		entries: make(map[model.EntityRef]model.SensorCacheEntry),
		asleep:  make(map[model.EntityRef]bool),
	}
	if db != nil {
		saved, err := db.AllSensors()
		if err != nil {
			return nil, fmt.Errorf("load sensor cache: %w", err)
		}
		for _, e := range saved {
			c.entries[e.Ref] = e
		}
	}
	return c, nil
}

// SetClock overrides the time source, for tests.
func (c *SensorCache) SetClock(now func() time.Time) { c.now = now }

// MarkAsleep flags refs as owned by a sleeping probe. While flagged they
// are served from cache only.
func (c *SensorCache) MarkAsleep(asleep bool, refs ...model.EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		if asleep {
			c.asleep[ref] = true
		} else {
			delete(c.asleep, ref)
		}
	}
}

// Read returns the current value for ref. retained is true when the value
// came from the cache rather than a live read. A missing or stale entry
// yields ErrNoData; callers must treat that as "unknown", never as zero.
func (c *SensorCache) Read(ctx context.Context, ref model.EntityRef) (value float64, retained bool, err error) {
	if ref.IsZero() {
		return 0, false, fmt.Errorf("%w: empty ref", ErrNoData)
	}

	c.mu.Lock()
	sleeping := c.asleep[ref]
	c.mu.Unlock()

	if !sleeping {
		if st, rerr := c.client.ReadState(ctx, ref); rerr == nil {
			if v, ferr := st.Float(); ferr == nil {
				c.put(ref, v, st.State)
				return v, false, nil
			}
		}
	}

	return c.cached(ref)
}

// Cached returns the cached value without attempting a live read.
func (c *SensorCache) Cached(ref model.EntityRef) (float64, bool, error) {
	return c.cached(ref)
}

func (c *SensorCache) cached(ref model.EntityRef) (float64, bool, error) {
	c.mu.Lock()
	e, ok := c.entries[ref]
	c.mu.Unlock()
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrNoData, ref)
	}
	if c.now().Sub(e.UpdatedAt) > c.stale {
		return 0, false, fmt.Errorf("%w: %s stale since %s", ErrNoData, ref, e.UpdatedAt.Format(time.RFC3339))
	}
	return e.Value, true, nil
}

func (c *SensorCache) put(ref model.EntityRef, v float64, raw string) {
	e := model.SensorCacheEntry{Ref: ref, Value: v, RawState: raw, UpdatedAt: c.now()}
	c.mu.Lock()
	c.entries[ref] = e
	c.mu.Unlock()
	if c.db != nil {
		if err := c.db.UpsertSensor(e); err != nil {
			log.Error().Err(err).Str("entity", string(ref)).Msg("sensor cache persist failed")
		}
	}
}

// Staleness reports the configured threshold.
func (c *SensorCache) Staleness() time.Duration { return c.stale }

// Prune drops cache rows older than twice the staleness threshold.
func (c *SensorCache) Prune() {
	cutoff := c.now().Add(-2 * c.stale)
	c.mu.Lock()
	for ref, e := range c.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(c.entries, ref)
		}
	}
	c.mu.Unlock()
	if c.db != nil {
		if _, err := c.db.PruneSensors(cutoff); err != nil {
			log.Error().Err(err).Msg("sensor cache prune failed")
		}
	}
}
