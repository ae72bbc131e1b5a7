// Package registry implements the device registry (C3): tracking
// which (topic, device_id) pairs have been seen, which table and
// pattern they route to, and an optional friendly name. Grounded on
// device_mapper.py, translated from SQLAlchemy onto database/sql.
package registry

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Device is one device_mapper row.
type Device struct {
	Topic        string
	DeviceID     string
	TableName    string
	DeviceName   string
	PatternName  string
	FirstSeen    time.Time
	LastSeen     time.Time
	MessageCount int64
}

// Registry wraps the device_mapper table.
type Registry struct {
	db *sql.DB
	mu sync.Mutex
}

// New ensures the device_mapper table exists and returns a Registry
// bound to db.
func New(db *sql.DB) (*Registry, error) {
	r := &Registry{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) ensureTable() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS device_mapper (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			device_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			device_name TEXT,
			pattern_name TEXT,
			first_seen TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			last_seen TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			message_count INTEGER DEFAULT 1,
			UNIQUE(topic, device_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure device_mapper table: %w", err)
	}
	return nil
}

// Register inserts a new device mapping or updates an existing one in
// place, bumping message_count and refreshing table_name/pattern_name
// and last_seen. deviceName is only applied when non-empty, preserving
// an existing friendly name. Returns isNew.
func (r *Registry) Register(topic, deviceID, tableName, patternName, deviceName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.find(topic, deviceID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		_, err := r.db.Exec(`
			INSERT INTO device_mapper (topic, device_id, table_name, pattern_name, device_name, message_count)
			VALUES (?, ?, ?, ?, ?, 1)
		`, topic, deviceID, tableName, nullableString(patternName), nullableString(deviceName))
		if err != nil {
			return false, fmt.Errorf("register device %s/%s: %w", topic, deviceID, err)
		}
		return true, nil
	}

	name := existing.DeviceName
	if deviceName != "" {
		name = deviceName
	}
	_, err = r.db.Exec(`
		UPDATE device_mapper
		SET table_name = ?, pattern_name = ?, device_name = ?,
		    last_seen = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
		    message_count = message_count + 1
		WHERE topic = ? AND device_id = ?
	`, tableName, nullableString(patternName), nullableString(name), topic, deviceID)
	if err != nil {
		return false, fmt.Errorf("update device %s/%s: %w", topic, deviceID, err)
	}
	return false, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Find looks up a single device by topic and device_id.
func (r *Registry) Find(topic, deviceID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(topic, deviceID)
}

func (r *Registry) find(topic, deviceID string) (*Device, error) {
	row := r.db.QueryRow(`
		SELECT topic, device_id, table_name, COALESCE(device_name, ''), COALESCE(pattern_name, ''),
		       first_seen, last_seen, message_count
		FROM device_mapper WHERE topic = ? AND device_id = ?
	`, topic, deviceID)
	return scanDevice(row)
}

// FindByTopic returns all devices registered for topic, ordered by
// device_id.
func (r *Registry) FindByTopic(topic string) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(`
		SELECT topic, device_id, table_name, COALESCE(device_name, ''), COALESCE(pattern_name, ''),
		       first_seen, last_seen, message_count
		FROM device_mapper WHERE topic = ? ORDER BY device_id
	`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// FindByTable returns all devices stored in tableName.
func (r *Registry) FindByTable(tableName string) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(`
		SELECT topic, device_id, table_name, COALESCE(device_name, ''), COALESCE(pattern_name, ''),
		       first_seen, last_seen, message_count
		FROM device_mapper WHERE table_name = ? ORDER BY topic, device_id
	`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// ListAll returns every registered device.
func (r *Registry) ListAll() ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(`
		SELECT topic, device_id, table_name, COALESCE(device_name, ''), COALESCE(pattern_name, ''),
		       first_seen, last_seen, message_count
		FROM device_mapper ORDER BY topic, device_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// SetName sets a device's friendly name, returning false if no row
// matched.
func (r *Registry) SetName(topic, deviceID, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.Exec(`UPDATE device_mapper SET device_name = ? WHERE topic = ? AND device_id = ?`, name, topic, deviceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats summarizes the registry: total device count, named vs.
// unnamed counts, and per-topic/per-table counts.
type Stats struct {
	TotalDevices   int64
	NamedDevices   int64
	UnnamedDevices int64
	PerTopic       map[string]int64
	PerTable       map[string]int64
}

// GetStats mirrors device_mapper.py's get_stats.
func (r *Registry) GetStats() (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{PerTopic: map[string]int64{}, PerTable: map[string]int64{}}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM device_mapper`).Scan(&stats.TotalDevices); err != nil {
		return Stats{}, err
	}
	if err := r.db.QueryRow(`
		SELECT COUNT(*) FROM device_mapper WHERE device_name IS NOT NULL AND device_name != ''
	`).Scan(&stats.NamedDevices); err != nil {
		return Stats{}, err
	}
	stats.UnnamedDevices = stats.TotalDevices - stats.NamedDevices

	rows, err := r.db.Query(`SELECT topic, COUNT(*) FROM device_mapper GROUP BY topic ORDER BY COUNT(*) DESC`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var topic string
		var count int64
		if err := rows.Scan(&topic, &count); err != nil {
			rows.Close()
			return Stats{}, err
		}
		stats.PerTopic[topic] = count
	}
	rows.Close()

	rows, err = r.db.Query(`SELECT table_name, COUNT(*) FROM device_mapper GROUP BY table_name ORDER BY COUNT(*) DESC`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		var count int64
		if err := rows.Scan(&table, &count); err != nil {
			return Stats{}, err
		}
		stats.PerTable[table] = count
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var d Device
	var firstSeen, lastSeen string
	err := row.Scan(&d.Topic, &d.DeviceID, &d.TableName, &d.DeviceName, &d.PatternName, &firstSeen, &lastSeen, &d.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	d.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	return &d, nil
}

func scanDevices(rows *sql.Rows) ([]Device, error) {
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, rows.Err()
}
