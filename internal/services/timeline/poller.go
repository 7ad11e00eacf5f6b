package timeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
)

const (
	// DefaultPollInterval is the awake/asleep sampling cadence.
	DefaultPollInterval = 5 * time.Second
	// DefaultCheckTimeout bounds one probe's status read so a hung
	// probe never blocks the rest of the tick.
	DefaultCheckTimeout = 3 * time.Second
)

// PollerDeps are the awake poller's collaborators.
type PollerDeps struct {
	Entities     entity.Client
	Moisture     *moisture.Service
	Cache        *moisture.SensorCache
	Machine      *Machine
	Interval     time.Duration
	CheckTimeout time.Duration
}

// AwakePoller samples each probe's status LED, tracks sleeping/awake
// transitions, and drives the prep machine: wake transitions become
// ProbeWoke events and every tick checks prep triggers.
type AwakePoller struct {
	deps   PollerDeps
	logger zerolog.Logger

	mu    sync.Mutex
	awake map[string]bool
}

// NewAwakePoller applies defaults for the interval and per-check timeout.
func NewAwakePoller(deps PollerDeps) *AwakePoller {
	if deps.Interval <= 0 {
		deps.Interval = DefaultPollInterval
	}
	if deps.CheckTimeout <= 0 {
		deps.CheckTimeout = DefaultCheckTimeout
	}
	return &AwakePoller{
		deps:   deps,
		logger: log.With().Str("component", "awake-poller").Logger(),
		awake:  make(map[string]bool),
	}
}

// Awake reports the probe's last observed awake state.
func (a *AwakePoller) Awake(probeID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.awake[probeID]
}

// Run polls until the context is cancelled.
func (a *AwakePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(a.deps.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick samples every probe once and feeds transitions to the machine.
func (a *AwakePoller) Tick(ctx context.Context) {
	for _, p := range a.deps.Moisture.Probes() {
		if p.Aux.StatusLED.IsZero() {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, a.deps.CheckTimeout)
		st, err := a.deps.Entities.ReadState(cctx, p.Aux.StatusLED)
		cancel()
		awake := err == nil && st.IsOn()

		a.mu.Lock()
		prev, seen := a.awake[p.ID]
		a.awake[p.ID] = awake
		a.mu.Unlock()

		// Shield depth readings from the junk values some firmware
		// reports during sleep transitions.
		if a.deps.Cache != nil {
			a.deps.Cache.MarkAsleep(!awake, moisture.DepthSensorRefs(p)...)
		}

		if seen && !prev && awake {
			a.logger.Info().Str("probe", p.ID).Msg("probe woke")
			if a.deps.Machine != nil {
				a.deps.Machine.HandleProbeWoke(ctx, p.ID)
			}
		}
	}
	if a.deps.Machine != nil {
		a.deps.Machine.HandleTimeReached(ctx)
	}
}
