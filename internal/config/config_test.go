package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleIntervalClamps(t *testing.T) {
	tests := []struct {
		minutes int
		want    time.Duration
	}{
		{0, 15 * time.Minute},
		{1, 5 * time.Minute},
		{15, 15 * time.Minute},
		{60, 60 * time.Minute},
		{240, 60 * time.Minute},
	}
	for _, tt := range tests {
		c := Config{CycleMinutes: tt.minutes}
		assert.Equal(t, tt.want, c.CycleInterval(), "minutes=%d", tt.minutes)
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
cycle_minutes: 30
weather:
  api_key: abc123
  latitude: 39.7
  longitude: -104.9
  units: imperial
schedule_entities:
  - text.irrigator_start_time_1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.CycleInterval())
	assert.Equal(t, "abc123", cfg.Weather.APIKey)
	assert.Equal(t, []string{"text.irrigator_start_time_1"}, cfg.ScheduleEntities)
	// untouched fields keep their defaults
	assert.Equal(t, ":8099", cfg.HTTPAddr)
	assert.Equal(t, "imperial", cfg.Weather.Units)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("weather:\n  latitude: 123\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
