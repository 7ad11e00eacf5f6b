package engine

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/fluxopenhome/irrigation-core/internal/history"
)

type healthHandler struct {
	mqtt   mqtt.Client
	influx influxdb2.Client
	writer *history.Writer
}

// NewHealthHandler reports dependency health. History writing is
// optional; a nil writer never degrades the status.
func NewHealthHandler(m mqtt.Client, i influxdb2.Client, w *history.Writer) http.Handler {
	return &healthHandler{mqtt: m, influx: i, writer: w}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		InfluxOK        bool    `json:"influx_ok"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{
		MQTTConnected:   h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		InfluxOK:        h.influx != nil || h.writer == nil,
		LastWriteErrorS: h.writer.LastErrorAge().Seconds(),
	}

	writeOK := h.writer.LastErrorAge() > 30*time.Second
	if st.MQTTConnected && st.InfluxOK && writeOK {
		st.Status = "ok"
	} else if st.MQTTConnected || st.InfluxOK {
		st.Status = "degraded"
	} else {
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	mqtt   mqtt.Client
	writer *history.Writer
}

// NewReadyHandler answers 200 only when the broker connection is up
// and history writes are not failing.
func NewReadyHandler(m mqtt.Client, w *history.Writer) http.Handler {
	return &readyHandler{mqtt: m, writer: w}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() &&
		h.writer.LastErrorAge() > 30*time.Second
	if !ready {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}
