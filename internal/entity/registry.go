package entity

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// statePayload is the wire form published on irrigation/state/<domain>/<object>.
type statePayload struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Available  *bool                  `json:"available,omitempty"`
	DeviceID   string                 `json:"device_id,omitempty"`
	Disabled   bool                   `json:"disabled,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty"`
}

// Registry caches the latest retained state per entity and tracks which
// device owns which entity.
type Registry struct {
	mu       sync.RWMutex
	states   map[model.EntityRef]State
	byDevice map[string][]model.EntityRef
	device   map[model.EntityRef]string
	onChange func(ref model.EntityRef, st State)
}

func NewRegistry() *Registry {
	return &Registry{
		states:   make(map[model.EntityRef]State),
		byDevice: make(map[string][]model.EntityRef),
		device:   make(map[model.EntityRef]string),
	}
}

// OnChange registers a callback fired after every accepted update.
func (r *Registry) OnChange(fn func(ref model.EntityRef, st State)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Ingest applies one raw bus payload. Disabled entities are evicted so
// discovery never hands them out.
func (r *Registry) Ingest(payload []byte) error {
	var p statePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	ref := model.EntityRef(p.EntityID)
	if ref.IsZero() {
		log.Debug().Msg("state payload without entity_id dropped")
		return nil
	}

	r.mu.Lock()
	if p.Disabled {
		r.evictLocked(ref)
		r.mu.Unlock()
		return nil
	}

	avail := true
	if p.Available != nil {
		avail = *p.Available
	} else if p.State == "unavailable" {
		avail = false
	}
	ts := p.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	st := State{
		EntityID:   ref,
		State:      p.State,
		Attributes: p.Attributes,
		Available:  avail,
		UpdatedAt:  ts,
	}
	r.states[ref] = st
	if p.DeviceID != "" && r.device[ref] != p.DeviceID {
		r.evictDeviceLocked(ref)
		r.device[ref] = p.DeviceID
		r.byDevice[p.DeviceID] = append(r.byDevice[p.DeviceID], ref)
	}
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(ref, st)
	}
	return nil
}

func (r *Registry) evictLocked(ref model.EntityRef) {
	delete(r.states, ref)
	r.evictDeviceLocked(ref)
	delete(r.device, ref)
}

func (r *Registry) evictDeviceLocked(ref model.EntityRef) {
	if dev, ok := r.device[ref]; ok {
		refs := r.byDevice[dev]
		for i, e := range refs {
			if e == ref {
				r.byDevice[dev] = append(refs[:i], refs[i+1:]...)
				break
			}
		}
	}
}

// Get returns the cached state for ref.
func (r *Registry) Get(ref model.EntityRef) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[ref]
	return st, ok
}

// ForDevice lists cached states owned by deviceID.
func (r *Registry) ForDevice(deviceID string) []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := r.byDevice[deviceID]
	out := make([]State, 0, len(refs))
	for _, ref := range refs {
		if st, ok := r.states[ref]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Len reports how many entities are cached.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
