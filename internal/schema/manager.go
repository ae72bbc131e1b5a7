// Package schema implements the dynamic table manager (C2): resolving
// a destination table name for an inbound payload shape, creating it
// on first sight, widening it additively as new columns appear, and
// falling back to versioned shadow tables when a type conflict can't
// be reconciled. Grounded on table_manager.py, translated from
// SQLAlchemy/PostgreSQL onto database/sql + modernc.org/sqlite.
package schema

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/payload"
)

var (
	nonWordRun = regexp.MustCompile(`[^a-z0-9_]+`)
	underRun   = regexp.MustCompile(`_+`)
)

// paramBuckets mirrors table_manager.py's fixed param_patterns:
// topics that decode to exactly 4, 5, or 9 data columns share one
// table per topic regardless of device, since those counts identify a
// known fixed-shape device family.
var paramBuckets = map[int]bool{4: true, 5: true, 9: true}

// Manager owns table name resolution and DDL for one database.
type Manager struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[string]map[string]payload.ColumnType
}

// New wraps db. The caller owns the *sql.DB's lifetime.
func New(db *sql.DB) *Manager {
	return &Manager{db: db, cache: make(map[string]map[string]payload.ColumnType)}
}

// Resolve returns the table name to use for a payload matching the
// given table config, topic, and device pattern, creating or widening
// the table as needed. Mirrors
// table_manager.py's get_or_create_table_name.
func (m *Manager) Resolve(cfg ingestconfig.TableConfig, topic, devicePattern string, cols map[string]payload.ColumnType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := cfg.Name
	if cfg.TableOverride != nil {
		name = *cfg.TableOverride
	}
	if name == "" {
		name = m.generateTableName(topic, devicePattern, cols)
	}

	if !cfg.AutoCreate {
		return name, nil
	}
	return m.ensureTableExists(name, cols, cfg.VersionOnConflict)
}

func (m *Manager) generateTableName(topic, devicePattern string, cols map[string]payload.ColumnType) string {
	safeTopic := sanitizeTopic(topic)
	n := len(cols)

	if paramBuckets[n] {
		return fmt.Sprintf("%s_%d", safeTopic, n)
	}

	if similar, ok := m.findSimilarTable(safeTopic, cols); ok {
		return similar
	}

	if devicePattern != "" && devicePattern != "*" {
		return fmt.Sprintf("%s_%s_%d", safeTopic, sanitizeTopic(devicePattern), n)
	}
	return fmt.Sprintf("%s_auto_%d", safeTopic, n)
}

func sanitizeTopic(topic string) string {
	s := nonWordRun.ReplaceAllString(strings.ToLower(topic), "_")
	s = underRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// findSimilarTable scans sqlite_master for tables sharing safeTopic as
// a prefix and reuses one whose column set is >=0.8 Jaccard-similar to
// cols, avoiding an explosion of near-duplicate tables.
func (m *Manager) findSimilarTable(safeTopic string, cols map[string]payload.ColumnType) (string, bool) {
	rows, err := m.db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name LIKE ?`, safeTopic+"%")
	if err != nil {
		return "", false
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			candidates = append(candidates, name)
		}
	}

	for _, name := range candidates {
		existing, err := m.tableSchema(name)
		if err != nil {
			continue
		}
		if schemasSimilar(existing, cols) {
			return name, true
		}
	}
	return "", false
}

const jaccardThreshold = 0.8

func schemasSimilar(existing, required map[string]payload.ColumnType) bool {
	if len(existing) == 0 || len(required) == 0 {
		return false
	}
	existingCols := stripMetadata(existing)
	if len(existingCols) == 0 {
		return false
	}
	union := map[string]bool{}
	intersection := 0
	for k := range existingCols {
		union[k] = true
	}
	for k := range required {
		if existingCols[k] {
			intersection++
		}
		union[k] = true
	}
	if len(union) == 0 {
		return false
	}
	return float64(intersection)/float64(len(union)) >= jaccardThreshold
}

func stripMetadata(cols map[string]payload.ColumnType) map[string]bool {
	out := make(map[string]bool, len(cols))
	for k := range cols {
		switch strings.ToLower(k) {
		case "id", "ingested_at", "topic":
			continue
		}
		out[k] = true
	}
	return out
}

// ensureTableExists mirrors table_manager.py's _ensure_table_exists:
// create on first sight, additively widen on a compatible schema, or
// fork a versioned shadow table on an irreconcilable type conflict.
func (m *Manager) ensureTableExists(name string, required map[string]payload.ColumnType, versionOnConflict bool) (string, error) {
	exists, err := m.tableExists(name)
	if err != nil {
		return name, err
	}
	if !exists {
		if err := m.createTable(name, required); err != nil {
			return name, err
		}
		return name, nil
	}

	existing, err := m.tableSchema(name)
	if err != nil {
		return name, err
	}

	if schemasCompatible(existing, required) {
		if err := m.addMissingColumns(name, required, existing); err != nil {
			return name, err
		}
		return name, nil
	}

	if versionOnConflict {
		versioned, err := m.createVersionedTable(name, required)
		if err != nil {
			return name, err
		}
		return versioned, nil
	}
	return name, nil
}

func schemasCompatible(existing, required map[string]payload.ColumnType) bool {
	for col, want := range required {
		if got, ok := existing[col]; ok {
			if !typesCompatible(got, want) {
				return false
			}
		}
	}
	return true
}

func typesCompatible(existing, required payload.ColumnType) bool {
	if existing == required {
		return true
	}
	switch {
	case existing == payload.TypeInt && required == payload.TypeFloat:
		return true
	case existing == payload.TypeString && required == payload.TypeJSON:
		return true
	case existing == payload.TypeJSON && required == payload.TypeString:
		return true
	default:
		return false
	}
}

func (m *Manager) tableExists(name string) (bool, error) {
	var got string
	err := m.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// tableSchema introspects an existing table's columns via
// PRAGMA table_info, the sqlite equivalent of table_manager.py's use
// of SQLAlchemy's inspector.get_columns.
func (m *Manager) tableSchema(name string) (map[string]payload.ColumnType, error) {
	if cached, ok := m.cache[name]; ok {
		return cached, nil
	}

	rows, err := m.db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schema := make(map[string]payload.ColumnType)
	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &primaryKey); err != nil {
			return nil, err
		}
		schema[colName] = sqlTypeToColumnType(colType)
	}
	m.cache[name] = schema
	return schema, nil
}

func sqlTypeToColumnType(sqlType string) payload.ColumnType {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "int"):
		return payload.TypeInt
	case strings.Contains(t, "real"), strings.Contains(t, "double"), strings.Contains(t, "float"), strings.Contains(t, "numeric"):
		return payload.TypeFloat
	case strings.Contains(t, "bool"):
		return payload.TypeBoolean
	case strings.Contains(t, "json"):
		return payload.TypeJSON
	default:
		return payload.TypeString
	}
}

var ddlTypeNames = map[payload.ColumnType]string{
	payload.TypeString:  "TEXT",
	payload.TypeInt:     "INTEGER",
	payload.TypeFloat:   "REAL",
	payload.TypeJSON:    "TEXT",
	payload.TypeBoolean: "BOOLEAN",
}

func (m *Manager) addMissingColumns(name string, required, existing map[string]payload.ColumnType) error {
	var missing []string
	for col := range required {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	for _, col := range missing {
		sqlType := ddlTypeNames[required[col]]
		stmt := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q %s`, name, col, sqlType)
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %q to %q: %w", col, name, err)
		}
	}
	delete(m.cache, name)
	return nil
}

func (m *Manager) createTable(name string, cols map[string]payload.ColumnType) error {
	keys := payload.SortedKeys(cols)

	defs := []string{
		`id INTEGER PRIMARY KEY AUTOINCREMENT`,
		`topic TEXT`,
	}
	for _, col := range keys {
		defs = append(defs, fmt.Sprintf("%q %s", col, ddlTypeNames[cols[col]]))
	}
	defs = append(defs, `ingested_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))`)

	stmt := fmt.Sprintf(`CREATE TABLE %q (%s)`, name, strings.Join(defs, ", "))
	if _, err := m.db.Exec(stmt); err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}

	if _, ok := cols["DeviceID"]; ok {
		m.db.Exec(fmt.Sprintf(`CREATE INDEX %q ON %q ("DeviceID")`, "idx_"+name+"_deviceid", name))
	}
	if _, ok := cols["ts"]; ok {
		m.db.Exec(fmt.Sprintf(`CREATE INDEX %q ON %q ("ts")`, "idx_"+name+"_ts", name))
	}
	m.db.Exec(fmt.Sprintf(`CREATE INDEX %q ON %q (ingested_at)`, "idx_"+name+"_ingested_at", name))

	cached := make(map[string]payload.ColumnType, len(cols)+3)
	for k, v := range cols {
		cached[k] = v
	}
	cached["id"] = payload.TypeInt
	cached["topic"] = payload.TypeString
	cached["ingested_at"] = payload.TypeString
	m.cache[name] = cached
	return nil
}

func (m *Manager) createVersionedTable(base string, cols map[string]payload.ColumnType) (string, error) {
	version := 1
	versioned := fmt.Sprintf("%s_v%d", base, version)
	for {
		exists, err := m.tableExists(versioned)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		version++
		versioned = fmt.Sprintf("%s_v%d", base, version)
	}
	if err := m.createTable(versioned, cols); err != nil {
		return "", err
	}
	return versioned, nil
}
