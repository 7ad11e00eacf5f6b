package moisture

import (
	"fmt"
	"math"
	"strings"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// DepthReading is one usable (non-stale) depth value.
type DepthReading struct {
	Value float64
	OK    bool
}

// Readings are a probe's three depth values, any of which may be missing.
type Readings struct {
	Shallow DepthReading
	Mid     DepthReading
	Deep    DepthReading
}

// WeatherContext is the slice of weather state the gradient analysis needs
// for rain detection.
type WeatherContext struct {
	PrecipProbability float64 // percent, next forecast period
	Condition         string
}

// Soil profile labels, derived from the shape of the depth gradient.
const (
	ProfileUnknown          = "unknown"
	ProfileWettingFront     = "wetting_front"
	ProfileSubsurfaceMoist  = "subsurface_moist"
	ProfileDeepReserve      = "deep_reserve"
	ProfileRootZoneDepleted = "root_zone_depleted"
	ProfileUniform          = "uniform"
	ProfileSurfaceWet       = "surface_wet"
	ProfileSurfaceDry       = "surface_dry"
	ProfileSurfaceEven      = "surface_even"
	ProfileMidOnly          = "mid_only"
	ProfileSaturated        = "saturated"
)

// Analysis is the outcome of one probe's gradient evaluation. Retained
// marks that at least one input came from the cache rather than a live
// read.
type Analysis struct {
	Factor         float64
	Skip           bool
	Reason         string
	Profile        string
	MidValue       *float64
	RainDetected   bool
	RainConfidence string
	Retained       bool
}

// AnalyzeGradient evaluates one probe's depth readings. The mid (root
// zone) sensor is the primary driver; shallow detects recent rain; deep
// guards against over-irrigation. Missing mid falls back to shallow,
// then deep; all missing yields a neutral result.
func AnalyzeGradient(r Readings, th model.MoistureThresholds, wx WeatherContext) Analysis {
	maxIncrease := th.MaxIncreasePercent / 100
	maxDecrease := th.MaxDecreasePercent / 100

	primary, primaryOK := 0.0, false
	switch {
	case r.Mid.OK:
		primary, primaryOK = r.Mid.Value, true
	case r.Shallow.OK:
		primary, primaryOK = r.Shallow.Value, true
	case r.Deep.OK:
		primary, primaryOK = r.Deep.Value, true
	}
	if !primaryOK {
		return Analysis{Factor: 1.0, Reason: "all readings stale or unavailable", Profile: ProfileUnknown}
	}

	// Rain detection from the shallow sensor
	rainDetected := false
	rainConfidence := "none"
	if r.Shallow.OK && r.Mid.OK {
		delta := r.Shallow.Value - r.Mid.Value
		if delta >= th.RainBoostDelta {
			rainDetected = true
			rainConfidence = "moderate"
			if wx.PrecipProbability >= 50 {
				rainConfidence = "high"
			}
		} else if delta > 5 && wx.PrecipProbability >= 40 {
			rainDetected = true
			rainConfidence = "moderate"
		}
	}
	if model.RainConditions[wx.Condition] {
		rainDetected = true
		rainConfidence = "high"
	}

	profile := classifyProfile(r)

	factor := 1.0
	skip := false
	var reasons []string

	switch {
	case primary >= th.RootZoneSkip:
		factor = 0
		skip = true
		profile = ProfileSaturated
		reasons = append(reasons, fmt.Sprintf("root zone %.0f%% at or above skip threshold %.0f%%", primary, th.RootZoneSkip))

	case primary >= th.RootZoneWet:
		span := th.RootZoneSkip - th.RootZoneWet
		if span > 0 {
			fraction := (primary - th.RootZoneWet) / span
			factor = (1 - maxDecrease) * (1 - fraction)
		} else {
			factor = 1 - maxDecrease
		}
		reasons = append(reasons, fmt.Sprintf("root zone %.0f%% above wet threshold %.0f%%", primary, th.RootZoneWet))

	case primary >= th.RootZoneOptimal:
		span := th.RootZoneWet - th.RootZoneOptimal
		if span > 0 {
			fraction := (primary - th.RootZoneOptimal) / span
			factor = 1.0 - maxDecrease*fraction
		}
		if factor < 1.0 {
			reasons = append(reasons, fmt.Sprintf("root zone %.0f%% approaching wet threshold", primary))
		} else {
			reasons = append(reasons, fmt.Sprintf("root zone %.0f%% in optimal range", primary))
		}

	case primary >= th.RootZoneDry:
		span := th.RootZoneOptimal - th.RootZoneDry
		if span > 0 {
			fraction := (th.RootZoneOptimal - primary) / span
			factor = 1.0 + maxIncrease*fraction*0.5
		}
		reasons = append(reasons, fmt.Sprintf("root zone %.0f%% below optimal, slight increase", primary))

	default:
		factor = 1 + maxIncrease
		reasons = append(reasons, fmt.Sprintf("root zone %.0f%% below dry threshold %.0f%%, max increase", primary, th.RootZoneDry))
	}

	// Rain adjustment: the wetting front has not reached the mid sensor
	// yet, so depress the factor by confidence.
	if rainDetected && !skip && factor > 0 {
		switch rainConfidence {
		case "high":
			factor *= 0.6
			reasons = append(reasons, "rain detected (high confidence), reducing 40%")
		case "moderate":
			factor *= 0.8
			reasons = append(reasons, "rain detected (moderate confidence), reducing 20%")
		}
		if r.Mid.OK && r.Mid.Value >= th.RootZoneWet-5 && rainConfidence == "high" {
			factor = 0
			skip = true
			reasons = append(reasons, fmt.Sprintf("root zone %.0f%% near wet threshold with rain, skipping", r.Mid.Value))
		}
	}

	// Deep guard. A saturated deep sensor means water is already pooling
	// below the root zone; watering more would only over-irrigate.
	if r.Deep.OK && !skip {
		if r.Deep.Value >= th.RootZoneSkip {
			factor = 0
			skip = true
			profile = ProfileSaturated
			reasons = append(reasons, fmt.Sprintf("deep sensor %.0f%% saturated, skipping", r.Deep.Value))
		} else if r.Mid.OK && r.Deep.Value > r.Mid.Value+15 {
			factor *= 0.85
			reasons = append(reasons, fmt.Sprintf("deep %.0f%% above mid %.0f%%, pooling reduction", r.Deep.Value, r.Mid.Value))
		}
	}

	factor = math.Round(math.Max(factor, 0)*1000) / 1000
	factor = math.Min(factor, 1+maxIncrease)

	a := Analysis{
		Factor:         factor,
		Skip:           skip,
		Reason:         strings.Join(reasons, "; "),
		Profile:        profile,
		RainDetected:   rainDetected,
		RainConfidence: rainConfidence,
	}
	if r.Mid.OK {
		v := r.Mid.Value
		a.MidValue = &v
	}
	return a
}

func classifyProfile(r Readings) string {
	if !r.Mid.OK {
		return ProfileUnknown
	}
	s, m, d := r.Shallow.Value, r.Mid.Value, r.Deep.Value
	switch {
	case r.Shallow.OK && r.Deep.OK:
		switch {
		case s > m && m > d:
			return ProfileWettingFront
		case s < m && m > d:
			return ProfileSubsurfaceMoist
		case s < m && m < d:
			return ProfileDeepReserve
		case s > m && m < d:
			return ProfileRootZoneDepleted
		default:
			return ProfileUniform
		}
	case r.Shallow.OK:
		switch {
		case s > m+10:
			return ProfileSurfaceWet
		case s < m-10:
			return ProfileSurfaceDry
		default:
			return ProfileSurfaceEven
		}
	default:
		return ProfileMidOnly
	}
}

// ZoneResult aggregates the probes mapped to one zone.
type ZoneResult struct {
	Factor      float64
	Skip        bool
	ProbeCount  int
	AvgMoisture *float64
	Reason      string
	Profiles    map[string]string // probe id -> profile
}

// Neutral is the result for zones with no usable probe data.
func Neutral(reason string) ZoneResult {
	return ZoneResult{Factor: 1.0, Reason: reason}
}
