package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

const apiTimeout = 10 * time.Second

// NewHTTPMux exposes the control surface: weather rules and pause
// state, probe configuration, factor application, the projected
// timeline and recent run history.
func NewHTTPMux(e *Engine) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/weather/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, e.deps.Weather.Rules())
		case http.MethodPut:
			var rules model.WeatherRules
			if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := e.deps.Weather.UpdateRules(rules); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, e.deps.Weather.Rules())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/weather/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.deps.Weather.State())
	})

	mux.HandleFunc("/weather/evaluate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
		defer cancel()
		st, err := e.deps.Weather.Evaluate(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if err := e.applyFactors(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, st)
	})

	mux.HandleFunc("/weather/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Reason == "" {
			body.Reason = "manual pause"
		}
		ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
		defer cancel()
		e.deps.Weather.PauseManual(ctx, body.Reason)
		writeJSON(w, e.deps.Weather.State())
	})

	mux.HandleFunc("/weather/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
		defer cancel()
		e.deps.Weather.ResumeManual(ctx)
		writeJSON(w, e.deps.Weather.State())
	})

	mux.HandleFunc("/zones", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, e.Zones())
		case http.MethodPost, http.MethodPut:
			var z model.Zone
			if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := e.UpsertZone(z); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, z)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/zones/", func(w http.ResponseWriter, r *http.Request) {
		id := model.EntityRef(strings.TrimPrefix(r.URL.Path, "/zones/"))
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := e.DeleteZone(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/probes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, e.deps.Moisture.Probes())
		case http.MethodPost, http.MethodPut:
			var p model.Probe
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := e.deps.Moisture.UpsertProbe(p); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			e.recompute.Trigger()
			writeJSON(w, p)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// GET /probes/{id}                 probe config
	// GET /probes/{id}/analysis        gradient analysis
	// GET /probes/{id}/live            depth readings with retained flags
	// POST /probes/{id}/zones          map a zone {"zone": "switch..."}
	// DELETE /probes/{id}/zones/{zone} unmap a zone
	// DELETE /probes/{id}
	mux.HandleFunc("/probes/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/probes/")
		id, sub, _ := strings.Cut(rest, "/")
		p, ok := e.deps.Moisture.Probe(id)
		if !ok {
			http.Error(w, "unknown probe", http.StatusNotFound)
			return
		}
		switch {
		case r.Method == http.MethodGet && sub == "":
			writeJSON(w, p)
		case r.Method == http.MethodGet && sub == "analysis":
			ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
			defer cancel()
			writeJSON(w, e.deps.Moisture.AnalyzeProbe(ctx, p, e.deps.Weather.MoistureContext()))
		case r.Method == http.MethodGet && sub == "live":
			ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
			defer cancel()
			readings, err := e.deps.Moisture.LiveReadings(ctx, id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			writeJSON(w, readings)
		case r.Method == http.MethodPost && sub == "zones":
			var body struct {
				Zone model.EntityRef `json:"zone"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Zone.IsZero() {
				http.Error(w, "zone entity id required", http.StatusBadRequest)
				return
			}
			if err := e.deps.Moisture.MapZone(id, body.Zone); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			e.recompute.Trigger()
			p, _ = e.deps.Moisture.Probe(id)
			writeJSON(w, p)
		case r.Method == http.MethodDelete && strings.HasPrefix(sub, "zones/"):
			zone := model.EntityRef(strings.TrimPrefix(sub, "zones/"))
			if err := e.deps.Moisture.UnmapZone(id, zone); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			e.recompute.Trigger()
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && sub == "":
			if err := e.deps.Moisture.DeleteProbe(id); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			e.recompute.Trigger()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/moisture/thresholds", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, e.deps.Moisture.Defaults())
		case http.MethodPut:
			var th model.MoistureThresholds
			if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := e.deps.Moisture.SetDefaults(th); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, e.deps.Moisture.Defaults())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/adjust/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.deps.Adjust.State())
	})

	mux.HandleFunc("/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, e.Settings())
		case http.MethodPut:
			var s Settings
			if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
			defer cancel()
			cur := e.Settings()
			if s.WeatherControl != cur.WeatherControl {
				if err := e.SetWeatherControl(ctx, s.WeatherControl); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			if s.MoistureControl != cur.MoistureControl {
				if err := e.SetMoistureControl(ctx, s.MoistureControl); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			if s.ApplyFactors != cur.ApplyFactors {
				if err := e.SetApplyFactors(ctx, s.ApplyFactors); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			writeJSON(w, e.Settings())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/timeline", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			tl := e.deps.Builder.Current()
			if tl == nil {
				http.Error(w, "no timeline yet", http.StatusNotFound)
				return
			}
			writeJSON(w, tl)
		case http.MethodPost:
			ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
			defer cancel()
			tl, err := e.deps.Builder.Build(ctx)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, tl)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/history/recent", func(w http.ResponseWriter, r *http.Request) {
		if e.deps.Recorder == nil {
			writeJSON(w, []model.RunEvent{})
			return
		}
		writeJSON(w, e.deps.Recorder.Recent())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
