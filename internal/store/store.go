// Package store persists engine state in SQLite so a restart resumes
// from where the previous process left off.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite is not safe for concurrent writers on one conn pool
	// beyond what busy_timeout covers; a single writer keeps it simple.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	schema := `
	-- Last-known-good sensor readings
	CREATE TABLE IF NOT EXISTS sensor_cache (
		entity_id TEXT PRIMARY KEY,
		value REAL NOT NULL,
		raw_state TEXT,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sensor_cache_updated ON sensor_cache(updated_at);

	-- JSON documents for component state (rules, adjustments, timeline, probes)
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Recent run events kept locally for quick queries
	CREATE TABLE IF NOT EXISTS run_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		zone_entity_id TEXT,
		probe_id TEXT,
		value REAL,
		detail TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_timestamp ON run_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_run_events_zone ON run_events(zone_entity_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Sensor cache ---

// UpsertSensor stores one last-known-good reading.
func (db *DB) UpsertSensor(e model.SensorCacheEntry) error {
	query := `
		INSERT INTO sensor_cache (entity_id, value, raw_state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			value = excluded.value,
			raw_state = excluded.raw_state,
			updated_at = excluded.updated_at
	`
	_, err := db.conn.Exec(query, string(e.Ref), e.Value, e.RawState, e.UpdatedAt.UTC())
	return err
}

// GetSensor retrieves the cached reading for an entity.
func (db *DB) GetSensor(ref model.EntityRef) (*model.SensorCacheEntry, error) {
	query := `SELECT entity_id, value, raw_state, updated_at FROM sensor_cache WHERE entity_id = ?`

	e := &model.SensorCacheEntry{}
	var id string
	var raw sql.NullString
	err := db.conn.QueryRow(query, string(ref)).Scan(&id, &e.Value, &raw, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Ref = model.EntityRef(id)
	e.RawState = raw.String
	return e, nil
}

// AllSensors retrieves every cached reading.
func (db *DB) AllSensors() ([]model.SensorCacheEntry, error) {
	rows, err := db.conn.Query(`SELECT entity_id, value, raw_state, updated_at FROM sensor_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SensorCacheEntry
	for rows.Next() {
		var e model.SensorCacheEntry
		var id string
		var raw sql.NullString
		if err := rows.Scan(&id, &e.Value, &raw, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Ref = model.EntityRef(id)
		e.RawState = raw.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneSensors deletes cache rows older than cutoff.
func (db *DB) PruneSensors(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM sensor_cache WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Run events ---

// InsertRunEvent stores one history event locally.
func (db *DB) InsertRunEvent(e model.RunEvent) error {
	query := `INSERT OR IGNORE INTO run_events (id, kind, zone_entity_id, probe_id, value, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, e.ID, string(e.Kind), string(e.Zone), e.Probe, e.Value, e.Detail, e.Timestamp.UTC())
	return err
}

// RecentRunEvents returns up to limit events newest first.
func (db *DB) RecentRunEvents(limit int) ([]model.RunEvent, error) {
	rows, err := db.conn.Query(`SELECT id, kind, zone_entity_id, probe_id, value, detail, timestamp
		FROM run_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunEvent
	for rows.Next() {
		var e model.RunEvent
		var kind, zone string
		var probe, detail sql.NullString
		var value sql.NullFloat64
		if err := rows.Scan(&e.ID, &kind, &zone, &probe, &value, &detail, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.RunEventKind(kind)
		e.Zone = model.EntityRef(zone)
		e.Probe = probe.String
		e.Value = value.Float64
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneRunEvents deletes events older than cutoff.
func (db *DB) PruneRunEvents(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM run_events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
