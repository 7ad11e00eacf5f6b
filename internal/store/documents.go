package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// Document keys. One row each in the documents table.
const (
	DocWeatherRules    = "weather_rules"
	DocWeatherState    = "weather_state"
	DocAdjustment      = "adjustment_state"
	DocTimeline        = "timeline"
	DocProbes          = "probes"
	DocZones           = "zones"
	docPrepStatePrefix = "prep_state/"
)

// SaveDocument marshals v and upserts it under key.
func (db *DB) SaveDocument(key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", key, err)
	}
	query := `
		INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`
	_, err = db.conn.Exec(query, key, string(body), time.Now().UTC())
	return err
}

// LoadDocument unmarshals the document under key into v. Returns
// (false, nil) when no document exists.
func (db *DB) LoadDocument(key string, v interface{}) (bool, error) {
	var body string
	err := db.conn.QueryRow(`SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("unmarshal document %s: %w", key, err)
	}
	return true, nil
}

// DeleteDocument removes the document under key.
func (db *DB) DeleteDocument(key string) error {
	_, err := db.conn.Exec(`DELETE FROM documents WHERE key = ?`, key)
	return err
}

// --- Typed accessors ---

func (db *DB) SaveWeatherRules(r *model.WeatherRules) error {
	return db.SaveDocument(DocWeatherRules, r)
}

func (db *DB) LoadWeatherRules() (*model.WeatherRules, error) {
	var r model.WeatherRules
	ok, err := db.LoadDocument(DocWeatherRules, &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

func (db *DB) SaveWeatherState(s *model.WeatherState) error {
	return db.SaveDocument(DocWeatherState, s)
}

func (db *DB) LoadWeatherState() (*model.WeatherState, error) {
	var s model.WeatherState
	ok, err := db.LoadDocument(DocWeatherState, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (db *DB) SaveAdjustmentState(s *model.AdjustmentState) error {
	return db.SaveDocument(DocAdjustment, s)
}

func (db *DB) LoadAdjustmentState() (*model.AdjustmentState, error) {
	var s model.AdjustmentState
	ok, err := db.LoadDocument(DocAdjustment, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (db *DB) SaveTimeline(t *model.Timeline) error {
	return db.SaveDocument(DocTimeline, t)
}

func (db *DB) LoadTimeline() (*model.Timeline, error) {
	var t model.Timeline
	ok, err := db.LoadDocument(DocTimeline, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (db *DB) SaveProbes(probes []model.Probe) error {
	return db.SaveDocument(DocProbes, probes)
}

func (db *DB) LoadProbes() ([]model.Probe, error) {
	var probes []model.Probe
	ok, err := db.LoadDocument(DocProbes, &probes)
	if err != nil || !ok {
		return nil, err
	}
	return probes, nil
}

func (db *DB) SaveZones(zones []model.Zone) error {
	return db.SaveDocument(DocZones, zones)
}

func (db *DB) LoadZones() ([]model.Zone, error) {
	var zones []model.Zone
	ok, err := db.LoadDocument(DocZones, &zones)
	if err != nil || !ok {
		return nil, err
	}
	return zones, nil
}

func (db *DB) SavePrepState(s *model.PrepState) error {
	return db.SaveDocument(docPrepStatePrefix+s.Probe, s)
}

func (db *DB) LoadPrepState(probeID string) (*model.PrepState, error) {
	var s model.PrepState
	ok, err := db.LoadDocument(docPrepStatePrefix+probeID, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (db *DB) DeletePrepState(probeID string) error {
	return db.DeleteDocument(docPrepStatePrefix + probeID)
}
