package moisture

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

// Service owns probe configuration and turns cached depth readings into
// per-zone factors.
type Service struct {
	cache    *SensorCache
	db       *store.DB
	validate *validator.Validate
	logger   zerolog.Logger

	mu       sync.Mutex
	probes   map[string]model.Probe
	defaults model.MoistureThresholds
}

// NewService loads persisted probe config. db may be nil in tests.
func NewService(cache *SensorCache, db *store.DB) (*Service, error) {
	s := &Service{
		cache:    cache,
		db:       db,
		validate: validator.New(),
		logger:   log.With().Str("component", "moisture").Logger(),
		probes:   make(map[string]model.Probe),
		defaults: model.DefaultMoistureThresholds(),
	}
	if db != nil {
		probes, err := db.LoadProbes()
		if err != nil {
			return nil, fmt.Errorf("load probes: %w", err)
		}
		for _, p := range probes {
			s.probes[p.ID] = p
		}
	}
	return s, nil
}

// Cache exposes the sensor cache for collaborators.
func (s *Service) Cache() *SensorCache { return s.cache }

// Defaults returns the system-wide thresholds.
func (s *Service) Defaults() model.MoistureThresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// SetDefaults validates and replaces the system-wide thresholds.
func (s *Service) SetDefaults(th model.MoistureThresholds) error {
	if err := s.validate.Struct(th); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	s.mu.Lock()
	s.defaults = th
	s.mu.Unlock()
	return nil
}

// Probes lists configured probes sorted by id.
func (s *Service) Probes() []model.Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Probe, 0, len(s.probes))
	for _, p := range s.probes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Probe returns one probe by id.
func (s *Service) Probe(id string) (model.Probe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.probes[id]
	return p, ok
}

// UpsertProbe validates and stores a probe definition.
func (s *Service) UpsertProbe(p model.Probe) error {
	if p.ID == "" {
		return fmt.Errorf("probe id required")
	}
	if p.Thresholds != nil {
		if err := s.validate.Struct(p.Thresholds); err != nil {
			return fmt.Errorf("invalid thresholds for probe %s: %w", p.ID, err)
		}
	}
	s.mu.Lock()
	s.probes[p.ID] = p
	s.mu.Unlock()
	return s.persist()
}

// DeleteProbe removes a probe.
func (s *Service) DeleteProbe(id string) error {
	s.mu.Lock()
	_, ok := s.probes[id]
	delete(s.probes, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown probe %s", id)
	}
	return s.persist()
}

// MapZone adds zone to the probe's mapping set.
func (s *Service) MapZone(probeID string, zone model.EntityRef) error {
	s.mu.Lock()
	p, ok := s.probes[probeID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown probe %s", probeID)
	}
	if !p.MappedTo(zone) {
		p.ZoneMappings = append(p.ZoneMappings, zone)
		s.probes[probeID] = p
	}
	s.mu.Unlock()
	return s.persist()
}

// UnmapZone removes zone from the probe's mapping set.
func (s *Service) UnmapZone(probeID string, zone model.EntityRef) error {
	s.mu.Lock()
	p, ok := s.probes[probeID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown probe %s", probeID)
	}
	out := p.ZoneMappings[:0]
	for _, z := range p.ZoneMappings {
		if z != zone {
			out = append(out, z)
		}
	}
	p.ZoneMappings = out
	s.probes[probeID] = p
	s.mu.Unlock()
	return s.persist()
}

// UpdateProbe applies fn to the stored probe under the lock and persists.
func (s *Service) UpdateProbe(probeID string, fn func(p *model.Probe)) error {
	s.mu.Lock()
	p, ok := s.probes[probeID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown probe %s", probeID)
	}
	fn(&p)
	s.probes[probeID] = p
	s.mu.Unlock()
	return s.persist()
}

// ProbesForZone lists the probes mapped to zone.
func (s *Service) ProbesForZone(zone model.EntityRef) []model.Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Probe
	for _, p := range s.probes {
		if p.MappedTo(zone) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) persist() error {
	if s.db == nil {
		return nil
	}
	return s.db.SaveProbes(s.Probes())
}

func (s *Service) thresholdsFor(p model.Probe) model.MoistureThresholds {
	if p.Thresholds != nil {
		return *p.Thresholds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// ProbeReadings reads the probe's depth sensors through the cache.
func (s *Service) ProbeReadings(ctx context.Context, p model.Probe) (Readings, bool) {
	var r Readings
	anyRetained := false
	read := func(ref model.EntityRef) DepthReading {
		if ref.IsZero() {
			return DepthReading{}
		}
		v, retained, err := s.cache.Read(ctx, ref)
		if err != nil {
			return DepthReading{}
		}
		anyRetained = anyRetained || retained
		return DepthReading{Value: v, OK: true}
	}
	r.Shallow = read(p.Sensors.Shallow)
	r.Mid = read(p.Sensors.Mid)
	r.Deep = read(p.Sensors.Deep)
	return r, anyRetained
}

// AnalyzeProbe runs the gradient analysis for one probe.
func (s *Service) AnalyzeProbe(ctx context.Context, p model.Probe, wx WeatherContext) Analysis {
	readings, retained := s.ProbeReadings(ctx, p)
	a := AnalyzeGradient(readings, s.thresholdsFor(p), wx)
	a.Retained = retained
	return a
}

// ZoneFactor computes the zone's moisture factor. Multiple probes
// aggregate conservatively: any skip wins and the smallest factor is
// kept. Zones without mapped probes are neutral.
func (s *Service) ZoneFactor(ctx context.Context, zone model.EntityRef, wx WeatherContext) ZoneResult {
	probes := s.ProbesForZone(zone)
	if len(probes) == 0 {
		return Neutral("no probes mapped to this zone")
	}

	res := ZoneResult{
		Factor:     1.0,
		ProbeCount: len(probes),
		Profiles:   make(map[string]string, len(probes)),
	}
	var factors []float64
	var midValues []float64
	var reasons []string

	for _, p := range probes {
		a := s.AnalyzeProbe(ctx, p, wx)
		res.Profiles[p.ID] = a.Profile
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", name, a.Reason))
		if a.Skip {
			res.Skip = true
		}
		factors = append(factors, a.Factor)
		if a.MidValue != nil {
			midValues = append(midValues, *a.MidValue)
		}
	}

	if res.Skip {
		res.Factor = 0
	} else {
		min := factors[0]
		for _, f := range factors[1:] {
			if f < min {
				min = f
			}
		}
		res.Factor = min
	}
	if len(midValues) > 0 {
		sum := 0.0
		for _, v := range midValues {
			sum += v
		}
		avg := sum / float64(len(midValues))
		res.AvgMoisture = &avg
	}
	res.Reason = strings.Join(reasons, "; ")

	s.logger.Debug().Str("zone", string(zone)).Float64("factor", res.Factor).
		Bool("skip", res.Skip).Int("probes", res.ProbeCount).Msg("zone moisture factor")
	return res
}

// DepthSensorRefs returns all depth entity refs of a probe, for cache
// sleep protection.
func DepthSensorRefs(p model.Probe) []model.EntityRef {
	var out []model.EntityRef
	for _, ref := range []model.EntityRef{p.Sensors.Shallow, p.Sensors.Mid, p.Sensors.Deep} {
		if !ref.IsZero() {
			out = append(out, ref)
		}
	}
	return out
}

// LiveReading is one depth value with its provenance for the reading API.
type LiveReading struct {
	Entity   model.EntityRef `json:"entity_id"`
	Value    *float64        `json:"value"`
	Retained bool            `json:"retained"`
	Reason   string          `json:"reason,omitempty"`
}

// LiveReadings reads all depth sensors of a probe for display.
func (s *Service) LiveReadings(ctx context.Context, probeID string) (map[string]LiveReading, error) {
	p, ok := s.Probe(probeID)
	if !ok {
		return nil, fmt.Errorf("unknown probe %s", probeID)
	}
	out := make(map[string]LiveReading, 3)
	for depth, ref := range map[string]model.EntityRef{
		"shallow": p.Sensors.Shallow,
		"mid":     p.Sensors.Mid,
		"deep":    p.Sensors.Deep,
	} {
		if ref.IsZero() {
			continue
		}
		lr := LiveReading{Entity: ref}
		if v, retained, err := s.cache.Read(ctx, ref); err == nil {
			lr.Value = &v
			lr.Retained = retained
		} else {
			lr.Reason = "no data"
		}
		out[depth] = lr
	}
	return out, nil
}

// DiscoverProbe builds a probe definition from a device's entities,
// classifying depth and auxiliary sensors by their object id suffixes.
func DiscoverProbe(ctx context.Context, client entity.Client, probeID, deviceID string) (model.Probe, error) {
	states, err := client.DeviceEntities(ctx, deviceID)
	if err != nil {
		return model.Probe{}, err
	}
	p := model.Probe{ID: probeID, DeviceID: deviceID}
	for _, st := range states {
		obj := strings.ToLower(st.EntityID.ObjectID())
		switch {
		case strings.Contains(obj, "shallow"):
			p.Sensors.Shallow = st.EntityID
		case strings.Contains(obj, "deep"):
			p.Sensors.Deep = st.EntityID
		case strings.Contains(obj, "mid") || strings.Contains(obj, "root"):
			p.Sensors.Mid = st.EntityID
		case strings.Contains(obj, "sleep_disable"):
			p.Aux.SleepDisable = st.EntityID
		case strings.Contains(obj, "sleep_now"):
			p.Aux.SleepNow = st.EntityID
		case strings.Contains(obj, "sleep") && st.EntityID.Domain() == "number":
			p.Aux.SleepNumber = st.EntityID
		case strings.Contains(obj, "sleep") && st.EntityID.Domain() == "sensor":
			p.Aux.SleepDuration = st.EntityID
		case strings.Contains(obj, "battery"):
			p.Aux.Battery = st.EntityID
		case strings.Contains(obj, "signal") || strings.Contains(obj, "rssi"):
			p.Aux.Signal = st.EntityID
		case strings.Contains(obj, "charging"):
			p.Aux.Charging = st.EntityID
		case strings.Contains(obj, "led") || strings.Contains(obj, "status"):
			p.Aux.StatusLED = st.EntityID
		}
	}
	return p, nil
}
