// Package config loads the service configuration: environment defaults
// overlaid by an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fluxopenhome/irrigation-core/pkg/mqttbus"
)

// Cycle interval bounds in minutes.
const (
	MinCycleMinutes     = 5
	MaxCycleMinutes     = 60
	DefaultCycleMinutes = 15
)

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type WeatherConfig struct {
	APIKey    string  `yaml:"api_key"`
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	Units     string  `yaml:"units" validate:"oneof=imperial metric"`
}

type Config struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	HTTPAddr  string `yaml:"http_addr" validate:"required"`
	StorePath string `yaml:"store_path" validate:"required"`

	CycleMinutes         int `yaml:"cycle_minutes" validate:"gte=0"`
	EntityRefreshMinutes int `yaml:"entity_refresh_minutes" validate:"gte=1"`

	MQTT    mqttbus.Config `yaml:"mqtt"`
	Influx  InfluxConfig   `yaml:"influx"`
	Weather WeatherConfig  `yaml:"weather"`

	// ScheduleEntities are the controller's start-time text entities.
	ScheduleEntities []string `yaml:"schedule_entities"`
	// AutoAdvanceEntities are the controller's auto-advance switches.
	AutoAdvanceEntities []string `yaml:"auto_advance_entities"`
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

// Default builds the configuration from environment variables.
func Default() Config {
	return Config{
		LogLevel:             getenv("LOG_LEVEL", "info"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8099"),
		StorePath:            getenv("STORE_PATH", "/var/lib/irrigation-core/state.db"),
		CycleMinutes:         getenvInt("CYCLE_MINUTES", DefaultCycleMinutes),
		EntityRefreshMinutes: getenvInt("ENTITY_REFRESH_MINUTES", 5),
		MQTT: mqttbus.Config{
			Host:     getenv("MQTT_HOST", "localhost"),
			Port:     getenvInt("MQTT_PORT", 1883),
			User:     getenv("MQTT_USER", ""),
			Password: getenv("MQTT_PASSWORD", ""),
			ClientID: fmt.Sprintf("irrigation-core-%s", getenv("HOSTNAME", "local")),
		},
		Influx: InfluxConfig{
			URL:    getenv("INFLUX_URL", "http://influxdb:8086"),
			Token:  getenv("INFLUX_TOKEN", ""),
			Org:    getenv("INFLUX_ORG", "irrigation"),
			Bucket: getenv("INFLUX_BUCKET", "runs"),
		},
		Weather: WeatherConfig{
			APIKey:    getenv("OWM_API_KEY", ""),
			Latitude:  getenvFloat("WEATHER_LAT", 0),
			Longitude: getenvFloat("WEATHER_LON", 0),
			Units:     getenv("WEATHER_UNITS", "imperial"),
		},
	}
}

// Load overlays the YAML file at path (when non-empty) on the
// environment defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// CycleInterval clamps the configured cycle to the supported range.
func (c Config) CycleInterval() time.Duration {
	m := c.CycleMinutes
	if m == 0 {
		m = DefaultCycleMinutes
	}
	if m < MinCycleMinutes {
		m = MinCycleMinutes
	}
	if m > MaxCycleMinutes {
		m = MaxCycleMinutes
	}
	return time.Duration(m) * time.Minute
}

// EntityRefreshInterval is the cadence of the additive entity refresh.
func (c Config) EntityRefreshInterval() time.Duration {
	m := c.EntityRefreshMinutes
	if m <= 0 {
		m = 5
	}
	return time.Duration(m) * time.Minute
}
