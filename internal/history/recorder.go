package history

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

// Recorder fans run events out to Influx and the local store, and keeps
// a small in-memory ring for the status endpoint.
type Recorder struct {
	writer *Writer
	db     *store.DB

	mu   sync.Mutex
	ring []model.RunEvent
	next int
	full bool
}

const ringSize = 128

// NewRecorder builds a recorder. writer and db may each be nil, the
// remaining sinks still receive events.
func NewRecorder(writer *Writer, db *store.DB) *Recorder {
	return &Recorder{
		writer: writer,
		db:     db,
		ring:   make([]model.RunEvent, ringSize),
	}
}

// Record stores the event in every configured sink. Sink failures are
// logged, never propagated: history must not block irrigation decisions.
func (r *Recorder) Record(e model.RunEvent) {
	if r == nil {
		return
	}
	if r.writer != nil {
		r.writer.Record(e)
	}
	if r.db != nil {
		if err := r.db.InsertRunEvent(e); err != nil {
			log.Error().Err(err).Str("kind", string(e.Kind)).Msg("local run event write failed")
		}
	}

	r.mu.Lock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % ringSize
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns the buffered events, newest first.
func (r *Recorder) Recent() []model.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = ringSize
	}
	out := make([]model.RunEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + ringSize) % ringSize
		out = append(out, r.ring[idx])
	}
	return out
}
