// Package alert implements the secondary threshold-alert monitor: a
// db-backed threshold cache plus a monitor that evaluates incoming
// readings against it and republishes violations. Grounded on
// original_source/core/threshold_manager_optimized.py (ThresholdManager)
// and original_source/alert_monitor.py (AlertMonitor). The original's
// separate company_id/topic mapping layer is not carried forward: this
// repo's device model keys thresholds by (device_id, parameter) the
// same way the device registry keys devices by (topic, device_id).
package alert

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Threshold is one device/parameter bound pair.
type Threshold struct {
	DeviceID        string
	Parameter       string
	LowerThreshold  float64
	HigherThreshold float64
}

type cacheKey struct {
	deviceID, parameter string
}

// ThresholdCache loads threshold rows from a relational table and
// keeps them in memory, refreshing on a fixed interval rather than
// hitting the database on every lookup. Defaults to a 30 minute
// refresh cycle, matching threshold_manager_optimized.py's
// cache_duration.
type ThresholdCache struct {
	db            *sql.DB
	refreshPeriod time.Duration

	mu          sync.RWMutex
	cache       map[cacheKey]Threshold
	lastRefresh time.Time
}

// NewThresholdCache creates a cache and performs its initial load.
func NewThresholdCache(db *sql.DB, refreshPeriod time.Duration) (*ThresholdCache, error) {
	if refreshPeriod <= 0 {
		refreshPeriod = 30 * time.Minute
	}
	if err := ensureThresholdTable(db); err != nil {
		return nil, err
	}
	tc := &ThresholdCache{db: db, refreshPeriod: refreshPeriod, cache: map[cacheKey]Threshold{}}
	if err := tc.refresh(); err != nil {
		return nil, err
	}
	return tc, nil
}

func ensureThresholdTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS threshold (
			device_id TEXT NOT NULL,
			parameter TEXT NOT NULL,
			lower_threshold REAL NOT NULL,
			higher_threshold REAL NOT NULL,
			PRIMARY KEY (device_id, parameter)
		)
	`)
	if err != nil {
		return fmt.Errorf("alert: ensure threshold table: %w", err)
	}
	return nil
}

// refresh reloads every threshold row. On failure the existing cache
// is kept untouched, per threshold_manager_optimized.py's "don't clear
// cache on error, keep using stale data".
func (tc *ThresholdCache) refresh() error {
	rows, err := tc.db.Query(`
		SELECT device_id, parameter, lower_threshold, higher_threshold
		FROM threshold
		ORDER BY device_id, parameter
	`)
	if err != nil {
		log.Printf("[ALERT] refresh thresholds failed, keeping stale cache: %v", err)
		return err
	}
	defer rows.Close()

	next := map[cacheKey]Threshold{}
	for rows.Next() {
		var t Threshold
		if err := rows.Scan(&t.DeviceID, &t.Parameter, &t.LowerThreshold, &t.HigherThreshold); err != nil {
			return fmt.Errorf("alert: scan threshold row: %w", err)
		}
		next[cacheKey{t.DeviceID, t.Parameter}] = t
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tc.mu.Lock()
	tc.cache = next
	tc.lastRefresh = time.Now()
	tc.mu.Unlock()

	log.Printf("[ALERT] threshold cache refreshed: %d entries", len(next))
	return nil
}

// ensureFresh refreshes the cache if the refresh period has elapsed.
func (tc *ThresholdCache) ensureFresh() {
	tc.mu.RLock()
	stale := time.Since(tc.lastRefresh) > tc.refreshPeriod
	tc.mu.RUnlock()
	if stale {
		_ = tc.refresh()
	}
}

// ForDevice returns every threshold configured for a device, keyed by
// parameter name lowercased for case-insensitive lookup, matching
// alert_monitor.py's threshold_lookup construction.
func (tc *ThresholdCache) ForDevice(deviceID string) map[string]Threshold {
	tc.ensureFresh()

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	out := map[string]Threshold{}
	for k, t := range tc.cache {
		if k.deviceID == deviceID {
			out[strings.ToLower(k.parameter)] = t
		}
	}
	return out
}

// ForceRefresh reloads the cache immediately regardless of age.
func (tc *ThresholdCache) ForceRefresh() error {
	return tc.refresh()
}
