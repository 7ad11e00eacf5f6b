package moisture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

func reading(v float64) DepthReading { return DepthReading{Value: v, OK: true} }

func TestAnalyzeGradientBands(t *testing.T) {
	th := model.DefaultMoistureThresholds()

	tests := []struct {
		name       string
		mid        float64
		wantFactor float64
		wantSkip   bool
	}{
		{"saturated skips", 85, 0, true},
		{"at skip boundary skips", 80, 0, true},
		{"wet band scales down", 72.5, 0.25, false},
		{"at wet threshold", 65, 0.5, false},
		{"optimal band slight reduction", 55, 0.75, false},
		{"at optimal neutral", 45, 1.0, false},
		{"dry band slight increase", 37.5, 1.125, false},
		{"below dry max increase", 20, 1.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeGradient(Readings{Mid: reading(tt.mid)}, th, WeatherContext{})
			assert.Equal(t, tt.wantSkip, a.Skip)
			assert.InDelta(t, tt.wantFactor, a.Factor, 0.001)
		})
	}
}

func TestAnalyzeGradientAllMissingIsNeutral(t *testing.T) {
	a := AnalyzeGradient(Readings{}, model.DefaultMoistureThresholds(), WeatherContext{})
	assert.False(t, a.Skip)
	assert.Equal(t, 1.0, a.Factor)
	assert.Equal(t, ProfileUnknown, a.Profile)
}

func TestAnalyzeGradientFallbackOrder(t *testing.T) {
	th := model.DefaultMoistureThresholds()

	// Mid missing: shallow drives the decision.
	a := AnalyzeGradient(Readings{Shallow: reading(85)}, th, WeatherContext{})
	assert.True(t, a.Skip)
	assert.Nil(t, a.MidValue)

	// Only deep present: deep drives it.
	a = AnalyzeGradient(Readings{Deep: reading(20)}, th, WeatherContext{})
	assert.False(t, a.Skip)
	assert.InDelta(t, 1.5, a.Factor, 0.001)
}

func TestAnalyzeGradientRainDetection(t *testing.T) {
	th := model.DefaultMoistureThresholds()

	// Shallow far wetter than mid with likely rain: high confidence cut.
	a := AnalyzeGradient(Readings{Shallow: reading(70), Mid: reading(50)}, th,
		WeatherContext{PrecipProbability: 60})
	require.True(t, a.RainDetected)
	assert.Equal(t, "high", a.RainConfidence)
	// optimal-band factor 0.875 depressed by 40%
	assert.InDelta(t, 0.525, a.Factor, 0.001)

	// Modest delta only counts when the forecast agrees.
	a = AnalyzeGradient(Readings{Shallow: reading(58), Mid: reading(50)}, th,
		WeatherContext{PrecipProbability: 10})
	assert.False(t, a.RainDetected)

	a = AnalyzeGradient(Readings{Shallow: reading(58), Mid: reading(50)}, th,
		WeatherContext{PrecipProbability: 45})
	require.True(t, a.RainDetected)
	assert.Equal(t, "moderate", a.RainConfidence)

	// Active rain condition alone is high confidence.
	a = AnalyzeGradient(Readings{Mid: reading(50)}, th,
		WeatherContext{Condition: "pouring"})
	require.True(t, a.RainDetected)
	assert.Equal(t, "high", a.RainConfidence)
}

func TestAnalyzeGradientRainNearWetSkips(t *testing.T) {
	th := model.DefaultMoistureThresholds()
	// Mid at 62 is within 5 of wet (65); high-confidence rain forces skip.
	a := AnalyzeGradient(Readings{Shallow: reading(80), Mid: reading(62)}, th,
		WeatherContext{PrecipProbability: 70})
	assert.True(t, a.Skip)
	assert.Equal(t, 0.0, a.Factor)
}

func TestAnalyzeGradientDeepGuard(t *testing.T) {
	th := model.DefaultMoistureThresholds()

	// Saturated deep sensor forces a skip even with a normal root zone.
	a := AnalyzeGradient(Readings{Mid: reading(45), Deep: reading(85)}, th, WeatherContext{})
	assert.True(t, a.Skip)
	assert.Equal(t, 0.0, a.Factor)
	assert.Equal(t, ProfileSaturated, a.Profile)

	// Deep noticeably wetter than mid: pooling reduction.
	a = AnalyzeGradient(Readings{Mid: reading(45), Deep: reading(65)}, th, WeatherContext{})
	assert.False(t, a.Skip)
	assert.InDelta(t, 0.85, a.Factor, 0.001)
}

func TestAnalyzeGradientFactorClamped(t *testing.T) {
	th := model.DefaultMoistureThresholds()
	a := AnalyzeGradient(Readings{Mid: reading(5)}, th, WeatherContext{})
	assert.LessOrEqual(t, a.Factor, 1+th.MaxIncreasePercent/100)
	assert.GreaterOrEqual(t, a.Factor, 0.0)
}

func TestClassifyProfile(t *testing.T) {
	tests := []struct {
		name string
		r    Readings
		want string
	}{
		{"wetting front", Readings{Shallow: reading(70), Mid: reading(55), Deep: reading(40)}, ProfileWettingFront},
		{"subsurface moist", Readings{Shallow: reading(40), Mid: reading(60), Deep: reading(45)}, ProfileSubsurfaceMoist},
		{"deep reserve", Readings{Shallow: reading(30), Mid: reading(45), Deep: reading(60)}, ProfileDeepReserve},
		{"root zone depleted", Readings{Shallow: reading(55), Mid: reading(30), Deep: reading(50)}, ProfileRootZoneDepleted},
		{"surface wet, no deep", Readings{Shallow: reading(70), Mid: reading(50)}, ProfileSurfaceWet},
		{"mid only", Readings{Mid: reading(50)}, ProfileMidOnly},
		{"no mid", Readings{Shallow: reading(50)}, ProfileUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyProfile(tt.r))
		})
	}
}
