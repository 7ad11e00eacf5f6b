package timeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

const (
	// PrepBuffer is added to the probe's sleep cycle when computing how
	// early the prep trigger must fire.
	PrepBuffer = 20 * time.Minute
	// WakeLead is how long before its zone a probe should be awake.
	WakeLead = 10 * time.Minute
)

// BuilderDeps are the timeline builder's collaborators.
type BuilderDeps struct {
	Entities  entity.Client
	Store     *store.DB
	Zones     func() []model.Zone
	Probes    func() []model.Probe
	Schedules func() []model.EntityRef // text start-time entities
	Now       func() time.Time
}

// Builder projects schedule start times and zone durations into the
// run timeline. Every rebuild bumps the sequence so consumers holding
// an older projection can tell it is stale.
type Builder struct {
	deps   BuilderDeps
	logger zerolog.Logger

	mu      sync.Mutex
	current *model.Timeline
}

// NewBuilder restores the last persisted timeline so the sequence keeps
// climbing across restarts.
func NewBuilder(deps BuilderDeps) (*Builder, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	b := &Builder{
		deps:   deps,
		logger: log.With().Str("component", "timeline").Logger(),
	}
	if deps.Store != nil {
		t, err := deps.Store.LoadTimeline()
		if err != nil {
			return nil, fmt.Errorf("load timeline: %w", err)
		}
		b.current = t
	}
	return b, nil
}

// Current returns the last built timeline, or nil before the first build.
func (b *Builder) Current() *model.Timeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

var trailingDigits = regexp.MustCompile(`(\d+)`)

// scheduleOrdinal extracts the slot number embedded in a start-time
// entity id, e.g. "text.irrigator_start_time_2" -> 2.
func scheduleOrdinal(ref model.EntityRef) int {
	ms := trailingDigits.FindAllString(ref.ObjectID(), -1)
	if len(ms) == 0 {
		return 99
	}
	n, err := strconv.Atoi(ms[len(ms)-1])
	if err != nil {
		return 99
	}
	return n
}

// orderedZones returns the enabled zones in program order: irrigation
// zones by ordinal, pump and master-valve zones after them.
func orderedZones(zones []model.Zone) []model.Zone {
	var irrigation, special []model.Zone
	for _, z := range zones {
		if !z.Enabled {
			continue
		}
		if z.IsSpecial() {
			special = append(special, z)
		} else {
			irrigation = append(irrigation, z)
		}
	}
	sort.SliceStable(irrigation, func(i, j int) bool {
		return irrigation[i].Ordinal < irrigation[j].Ordinal
	})
	sort.SliceStable(special, func(i, j int) bool {
		return special[i].Ordinal < special[j].Ordinal
	})
	return append(irrigation, special...)
}

// Build reads the schedule start times and zone durations and projects
// them into run windows. A start time that cannot be parsed skips that
// schedule only; the rest of the timeline still builds.
func (b *Builder) Build(ctx context.Context) (*model.Timeline, error) {
	now := b.deps.Now()
	zones := orderedZones(b.deps.Zones())

	schedules := append([]model.EntityRef(nil), b.deps.Schedules()...)
	sort.SliceStable(schedules, func(i, j int) bool {
		return scheduleOrdinal(schedules[i]) < scheduleOrdinal(schedules[j])
	})

	var windows []model.ScheduleWindow
	for _, ref := range schedules {
		st, err := b.deps.Entities.ReadState(ctx, ref)
		if err != nil || !st.Available {
			b.logger.Debug().Str("schedule", string(ref)).Msg("start time unavailable, skipping")
			continue
		}
		mins, err := ParseScheduleTime(st.State)
		if err != nil {
			b.logger.Warn().Err(err).Str("schedule", string(ref)).Msg("unparseable start time, skipping schedule")
			continue
		}

		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		start := midnight.Add(time.Duration(mins) * time.Minute)

		w := b.buildWindow(ctx, ref, start, zones)
		if len(w.Slots) == 0 {
			continue
		}
		// A window fully in the past belongs to tomorrow's run.
		if !w.End.After(now) {
			w = b.buildWindow(ctx, ref, start.Add(24*time.Hour), zones)
		}
		windows = append(windows, w)
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Start.Before(windows[j].Start)
	})

	b.mu.Lock()
	seq := uint64(1)
	if b.current != nil {
		seq = b.current.Sequence + 1
	}
	t := &model.Timeline{Windows: windows, BuiltAt: now, Sequence: seq}
	b.current = t
	b.mu.Unlock()

	if b.deps.Store != nil {
		if err := b.deps.Store.SaveTimeline(t); err != nil {
			return t, fmt.Errorf("persist timeline: %w", err)
		}
	}
	b.logger.Info().Int("windows", len(windows)).Uint64("seq", seq).Msg("timeline rebuilt")
	return t, nil
}

func (b *Builder) buildWindow(ctx context.Context, ref model.EntityRef, start time.Time, zones []model.Zone) model.ScheduleWindow {
	w := model.ScheduleWindow{ScheduleRef: ref, Start: start}
	cursor := start
	for _, z := range zones {
		d := b.zoneDuration(ctx, z)
		if d <= 0 {
			continue
		}
		slot := model.ZoneSlot{
			Zone:     z.ID,
			Ordinal:  z.Ordinal,
			Start:    cursor,
			End:      cursor.Add(d),
			Duration: d,
		}
		w.Slots = append(w.Slots, slot)
		cursor = slot.End
	}
	w.End = cursor

	if sleep := b.maxMappedSleep(w); sleep > 0 {
		w.PrepTrigger = start.Add(-(sleep + PrepBuffer))
		w.TargetWake = start.Add(-WakeLead)
	}
	return w
}

// zoneDuration reads the live duration entity, falling back on the
// stored base when the read fails.
func (b *Builder) zoneDuration(ctx context.Context, z model.Zone) time.Duration {
	mins := z.BaseDuration
	if !z.DurationRef.IsZero() {
		if st, err := b.deps.Entities.ReadState(ctx, z.DurationRef); err == nil {
			if v, err := st.Float(); err == nil {
				mins = v
			}
		}
	}
	if mins <= 0 {
		return 0
	}
	return time.Duration(mins * float64(time.Minute))
}

// maxMappedSleep returns the longest sleep cycle among probes mapped to
// zones in the window, zero when no sleep-controlled probe is mapped.
func (b *Builder) maxMappedSleep(w model.ScheduleWindow) time.Duration {
	var max float64
	for _, p := range b.deps.Probes() {
		if p.Aux.SleepDisable.IsZero() || p.SleepMinutes <= 0 {
			continue
		}
		for _, slot := range w.Slots {
			if p.MappedTo(slot.Zone) {
				if p.SleepMinutes > max {
					max = p.SleepMinutes
				}
				break
			}
		}
	}
	return time.Duration(max * float64(time.Minute))
}
