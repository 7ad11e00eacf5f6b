// Package history records annotated run events, both to InfluxDB for
// long-term analysis and to the local store for quick queries.
package history

import (
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// Writer wraps the async WriteAPI and tracks the last write error so
// /healthz and /readyz can report Influx health.
type Writer struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[model.RunEventKind]int64
}

// NewWriter starts the async error listener and returns a ready writer.
func NewWriter(w api.WriteAPI) *Writer {
	ww := &Writer{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[model.RunEventKind]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				log.Error().Err(err).Msg("influx write error")
			}
		}
	}()
	return ww
}

// Record queues one run event for async write.
func (w *Writer) Record(e model.RunEvent) {
	if w == nil {
		return
	}
	point := influxdb2.NewPoint(
		"irrigation_event",
		map[string]string{
			"kind":  string(e.Kind),
			"zone":  string(e.Zone),
			"probe": e.Probe,
		},
		map[string]interface{}{
			"id":     e.ID,
			"value":  e.Value,
			"detail": e.Detail,
		},
		e.Timestamp,
	)
	w.api.WritePoint(point)

	w.mu.Lock()
	w.counts[e.Kind]++
	w.mu.Unlock()
}

// LastErrorAge reports how long writes have gone without an error.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Count reads the per-kind counter.
func (w *Writer) Count(kind model.RunEventKind) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[kind]
	w.mu.RUnlock()
	return c
}

// Flush forces pending points out, used at shutdown.
func (w *Writer) Flush() {
	if w != nil && w.api != nil {
		w.api.Flush()
	}
}
