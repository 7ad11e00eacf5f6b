package weather

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// Outcome is the pure result of one rule evaluation.
type Outcome struct {
	Fired       []model.FiredRule
	Multiplier  float64
	Paused      bool
	PauseReason string
}

// EvaluateRules runs the pause-class rules in their fixed order, then the
// scale-class rules. The first pause trigger wins: the multiplier stays at
// 1.0 and no further rules run. Identical input always yields an
// identical outcome.
func EvaluateRules(rules model.WeatherRules, wx model.WeatherSnapshot, now time.Time) Outcome {
	out := Outcome{Multiplier: 1.0}

	for _, kind := range model.PauseRuleOrder {
		fired, reason := evalPauseRule(kind, rules, wx, now)
		if fired {
			out.Paused = true
			out.PauseReason = reason
			out.Multiplier = 1.0
			out.Fired = append(out.Fired, model.FiredRule{Kind: kind, Action: "pause", Reason: reason})
			return out
		}
	}

	for _, kind := range model.ScaleRuleOrder {
		factor, reason, fired := evalScaleRule(kind, rules, wx, now)
		if fired {
			out.Multiplier *= factor
			out.Fired = append(out.Fired, model.FiredRule{Kind: kind, Action: "scale", Factor: factor, Reason: reason})
		}
	}
	out.Multiplier = math.Round(out.Multiplier*1000) / 1000
	return out
}

func evalPauseRule(kind model.RuleKind, rules model.WeatherRules, wx model.WeatherSnapshot, now time.Time) (bool, string) {
	switch kind {
	case model.RuleRainNow:
		if !rules.RainNow.Enabled {
			return false, ""
		}
		if model.RainConditions[wx.Condition] {
			return true, fmt.Sprintf("currently raining (%s)", wx.Condition)
		}

	case model.RuleRainForecast:
		if !rules.RainForecast.Enabled {
			return false, ""
		}
		cutoff := now.Add(time.Duration(rules.RainForecast.LookaheadHours * float64(time.Hour)))
		for _, f := range wx.Forecast {
			if !f.Start.IsZero() && f.Start.After(cutoff) {
				continue
			}
			if f.PrecipProbability >= rules.RainForecast.ProbabilityThreshold {
				return true, fmt.Sprintf("rain forecasted (%.0f%% probability on %s)",
					f.PrecipProbability, f.Start.Weekday())
			}
		}

	case model.RulePrecipThreshold:
		if !rules.PrecipThreshold.Enabled {
			return false, ""
		}
		// Expected rainfall over the next two forecast periods, roughly
		// the coming 24 hours.
		total := 0.0
		for i, f := range wx.Forecast {
			if i >= 2 {
				break
			}
			total += f.PrecipAmountMM
		}
		if total >= rules.PrecipThreshold.SkipAboveMM {
			return true, fmt.Sprintf("expected rainfall %.1fmm exceeds %.1fmm threshold",
				total, rules.PrecipThreshold.SkipAboveMM)
		}

	case model.RuleFreeze:
		if !rules.Freeze.Enabled || !wx.HasTemp {
			return false, ""
		}
		threshold := rules.Freeze.ThresholdF
		if isCelsius(wx.TempUnit) {
			threshold = rules.Freeze.ThresholdC
		}
		if wx.Temperature <= threshold {
			return true, fmt.Sprintf("temperature %.0f%s at or below freeze threshold %.0f%s",
				wx.Temperature, wx.TempUnit, threshold, wx.TempUnit)
		}

	case model.RuleWind:
		if !rules.Wind.Enabled || !wx.HasWind {
			return false, ""
		}
		threshold := rules.Wind.MaxMPH
		if isMetricWind(wx.WindUnit) {
			threshold = rules.Wind.MaxKPH
		}
		if wx.WindSpeed > threshold {
			return true, fmt.Sprintf("wind speed %.0f %s exceeds %.0f %s threshold",
				wx.WindSpeed, wx.WindUnit, threshold, wx.WindUnit)
		}
	}
	return false, ""
}

func evalScaleRule(kind model.RuleKind, rules model.WeatherRules, wx model.WeatherSnapshot, now time.Time) (float64, string, bool) {
	switch kind {
	case model.RuleCool:
		if !rules.Cool.Enabled || !wx.HasTemp {
			return 0, "", false
		}
		threshold := rules.Cool.ThresholdF
		if isCelsius(wx.TempUnit) {
			threshold = rules.Cool.ThresholdC
		}
		if wx.Temperature < threshold {
			factor := math.Round((1-rules.Cool.ReductionPercent/100)*1000) / 1000
			return factor, fmt.Sprintf("cool temperature %.0f%s, reducing watering %.0f%%",
				wx.Temperature, wx.TempUnit, rules.Cool.ReductionPercent), true
		}

	case model.RuleHot:
		if !rules.Hot.Enabled || !wx.HasTemp {
			return 0, "", false
		}
		threshold := rules.Hot.ThresholdF
		if isCelsius(wx.TempUnit) {
			threshold = rules.Hot.ThresholdC
		}
		if wx.Temperature > threshold {
			factor := math.Round((1+rules.Hot.IncreasePercent/100)*1000) / 1000
			return factor, fmt.Sprintf("hot temperature %.0f%s, increasing watering %.0f%%",
				wx.Temperature, wx.TempUnit, rules.Hot.IncreasePercent), true
		}

	case model.RuleHumidity:
		if !rules.Humidity.Enabled || !wx.HasHumidity {
			return 0, "", false
		}
		if wx.Humidity > rules.Humidity.HighThreshold {
			factor := math.Round((1-rules.Humidity.ReductionPercent/100)*1000) / 1000
			return factor, fmt.Sprintf("high humidity %.0f%%, reducing watering %.0f%%",
				wx.Humidity, rules.Humidity.ReductionPercent), true
		}

	case model.RuleSeasonal:
		if !rules.Seasonal.Enabled {
			return 0, "", false
		}
		month := strconv.Itoa(int(now.Month()))
		mult := rules.Seasonal.MonthlyMultipliers[month]
		// A configured 0 means "not set", never "water nothing".
		if mult <= 0 {
			mult = 1.0
		}
		if math.Abs(mult-1.0) < 0.005 {
			return 0, "", false
		}
		return mult, fmt.Sprintf("seasonal adjustment for month %s: %.2fx", month, mult), true
	}
	return 0, "", false
}

func isCelsius(unit string) bool {
	return strings.Contains(unit, "C")
}

func isMetricWind(unit string) bool {
	u := strings.ToLower(unit)
	return strings.Contains(u, "km") || strings.Contains(u, "kph")
}
