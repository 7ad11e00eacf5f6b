package model

import "time"

// WeatherSnapshot is one normalized read of current conditions plus forecast.
// Unit fields tag the raw values; the rule engine normalizes before
// comparing against thresholds.
type WeatherSnapshot struct {
	Condition     string  `json:"condition"`
	Temperature   float64 `json:"temperature"`
	TempUnit      string  `json:"temperature_unit"` // "°F" or "°C"
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	WindUnit      string  `json:"wind_speed_unit"` // "mph" or "kph"
	Pressure      float64 `json:"pressure,omitempty"`
	HasTemp       bool    `json:"has_temperature"`
	HasHumidity   bool    `json:"has_humidity"`
	HasWind       bool    `json:"has_wind"`
	Forecast      []ForecastPeriod `json:"forecast,omitempty"`
	ObservedAt    time.Time        `json:"observed_at"`
}

// ForecastPeriod is one forecast slot, roughly half a day.
type ForecastPeriod struct {
	Start           time.Time `json:"start"`
	Condition       string    `json:"condition"`
	Temperature     float64   `json:"temperature"`
	PrecipProbability float64 `json:"precipitation_probability"` // percent
	PrecipAmountMM    float64 `json:"precipitation_mm"`
	WindSpeed         float64 `json:"wind_speed"`
}

// RainConditions are the condition strings treated as active rain.
var RainConditions = map[string]bool{
	"rainy":          true,
	"pouring":        true,
	"lightning-rainy": true,
}

// RuleKind names one of the nine weather rules.
type RuleKind string

const (
	RuleRainNow         RuleKind = "rain_detection"
	RuleRainForecast    RuleKind = "rain_forecast"
	RulePrecipThreshold RuleKind = "precipitation_threshold"
	RuleFreeze          RuleKind = "temperature_freeze"
	RuleWind            RuleKind = "wind_speed"
	RuleCool            RuleKind = "temperature_cool"
	RuleHot             RuleKind = "temperature_hot"
	RuleHumidity        RuleKind = "humidity"
	RuleSeasonal        RuleKind = "seasonal_adjustment"
)

// PauseRuleOrder is the fixed evaluation order of the pause-class rules.
// The first one that triggers pauses the system and ends the evaluation.
var PauseRuleOrder = []RuleKind{
	RuleRainNow, RuleRainForecast, RulePrecipThreshold, RuleFreeze, RuleWind,
}

// ScaleRuleOrder is the evaluation order of the scale-class rules. Their
// factors compose multiplicatively.
var ScaleRuleOrder = []RuleKind{RuleCool, RuleHot, RuleHumidity, RuleSeasonal}

// WeatherRules is the full rule configuration.
type WeatherRules struct {
	RainNow struct {
		Enabled          bool    `json:"enabled"`
		ResumeDelayHours float64 `json:"resume_delay_hours" validate:"gte=0,lte=72"`
	} `json:"rain_detection"`
	RainForecast struct {
		Enabled              bool    `json:"enabled"`
		LookaheadHours       float64 `json:"lookahead_hours" validate:"gt=0,lte=168"`
		ProbabilityThreshold float64 `json:"probability_threshold" validate:"gte=0,lte=100"`
	} `json:"rain_forecast"`
	PrecipThreshold struct {
		Enabled         bool    `json:"enabled"`
		SkipAboveMM     float64 `json:"skip_if_rain_above_mm" validate:"gte=0"`
	} `json:"precipitation_threshold"`
	Freeze struct {
		Enabled    bool    `json:"enabled"`
		ThresholdF float64 `json:"freeze_threshold_f"`
		ThresholdC float64 `json:"freeze_threshold_c"`
	} `json:"temperature_freeze"`
	Wind struct {
		Enabled bool    `json:"enabled"`
		MaxMPH  float64 `json:"max_wind_speed_mph" validate:"gte=0"`
		MaxKPH  float64 `json:"max_wind_speed_kmh" validate:"gte=0"`
	} `json:"wind_speed"`
	Cool struct {
		Enabled          bool    `json:"enabled"`
		ThresholdF       float64 `json:"cool_threshold_f"`
		ThresholdC       float64 `json:"cool_threshold_c"`
		ReductionPercent float64 `json:"reduction_percent" validate:"gte=0,lt=100"`
	} `json:"temperature_cool"`
	Hot struct {
		Enabled         bool    `json:"enabled"`
		ThresholdF      float64 `json:"hot_threshold_f"`
		ThresholdC      float64 `json:"hot_threshold_c"`
		IncreasePercent float64 `json:"increase_percent" validate:"gte=0,lte=200"`
	} `json:"temperature_hot"`
	Humidity struct {
		Enabled          bool    `json:"enabled"`
		HighThreshold    float64 `json:"high_humidity_threshold" validate:"gte=0,lte=100"`
		ReductionPercent float64 `json:"reduction_percent" validate:"gte=0,lt=100"`
	} `json:"humidity"`
	Seasonal struct {
		Enabled            bool               `json:"enabled"`
		MonthlyMultipliers map[string]float64 `json:"monthly_multipliers"`
	} `json:"seasonal_adjustment"`
}

// DefaultWeatherRules returns stock rule settings.
func DefaultWeatherRules() WeatherRules {
	var r WeatherRules
	r.RainNow.Enabled = true
	r.RainNow.ResumeDelayHours = 2
	r.RainForecast.Enabled = true
	r.RainForecast.LookaheadHours = 48
	r.RainForecast.ProbabilityThreshold = 60
	r.PrecipThreshold.Enabled = true
	r.PrecipThreshold.SkipAboveMM = 6.0
	r.Freeze.Enabled = true
	r.Freeze.ThresholdF = 35
	r.Freeze.ThresholdC = 2
	r.Wind.Enabled = true
	r.Wind.MaxMPH = 20
	r.Wind.MaxKPH = 32
	r.Cool.Enabled = true
	r.Cool.ThresholdF = 60
	r.Cool.ThresholdC = 15
	r.Cool.ReductionPercent = 25
	r.Hot.Enabled = true
	r.Hot.ThresholdF = 95
	r.Hot.ThresholdC = 35
	r.Hot.IncreasePercent = 25
	r.Humidity.Enabled = true
	r.Humidity.HighThreshold = 80
	r.Humidity.ReductionPercent = 20
	r.Seasonal.Enabled = false
	r.Seasonal.MonthlyMultipliers = map[string]float64{
		"1": 0.0, "2": 0.0, "3": 0.5, "4": 0.7,
		"5": 0.9, "6": 1.0, "7": 1.2, "8": 1.2,
		"9": 1.0, "10": 0.7, "11": 0.4, "12": 0.0,
	}
	return r
}

// PauseOrigin records who paused the system. Only weather-origin pauses
// auto-resume when conditions clear.
type PauseOrigin string

const (
	PauseOriginWeather PauseOrigin = "weather"
	PauseOriginManual  PauseOrigin = "manual"
)

// FiredRule is one triggered rule inside an evaluation result.
type FiredRule struct {
	Kind   RuleKind `json:"rule"`
	Action string   `json:"action"` // "pause" or "scale"
	Factor float64  `json:"factor,omitempty"`
	Reason string   `json:"reason"`
}

// WeatherState is the persisted outcome of the last evaluation.
type WeatherState struct {
	Snapshot    WeatherSnapshot `json:"snapshot"`
	Fired       []FiredRule     `json:"fired,omitempty"`
	Multiplier  float64         `json:"multiplier"`
	Paused      bool            `json:"paused"`
	PauseOrigin PauseOrigin     `json:"pause_origin,omitempty"`
	PauseReason string          `json:"pause_reason,omitempty"`
	EvaluatedAt time.Time       `json:"evaluated_at"`

	// SavedScheduleStates remembers which schedule enable switches were on
	// before a weather pause so resume can restore exactly those.
	SavedScheduleStates map[EntityRef]string `json:"saved_schedule_states,omitempty"`
}
