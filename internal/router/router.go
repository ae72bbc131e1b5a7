// Package router implements the Router (C7): the orchestrator that
// takes one decoded MQTT payload and a matching route/rule, resolves
// it to a pattern, transforms it, resolves a destination table,
// dispatches it through the derivation engine's two substreams, and
// records the device in the registry. Grounded on the largest
// revision of router.py found in original_source/core/router.py.
package router

import (
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/avdsystems/ingestor/internal/derive"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/pattern"
	"github.com/avdsystems/ingestor/internal/payload"
	"github.com/avdsystems/ingestor/internal/registry"
	"github.com/avdsystems/ingestor/internal/schema"
	"github.com/avdsystems/ingestor/internal/transform"
)

var (
	nonWordRun = regexp.MustCompile(`[^a-z0-9_]+`)
	underRun   = regexp.MustCompile(`_+`)
)

func safeTopic(topic string) string {
	s := nonWordRun.ReplaceAllString(strings.ToLower(topic), "_")
	s = underRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Result summarizes one routed message for callers (mainly tests and
// logging) that want to know what happened without re-deriving it.
type Result struct {
	Table    string
	Pattern  string
	Columns  map[string]payload.ColumnType
	Baseline bool
}

// Inserter abstracts the row-insert step so tests can observe what
// would be written without standing up full tables; production code
// uses SQLInserter, defined below.
type Inserter interface {
	Insert(table string, row map[string]any, cols map[string]payload.ColumnType) error
}

// Router wires the matcher, transformer, schema manager, derivation
// engine, and device registry together into one per-message pipeline.
type Router struct {
	schemaMgr *schema.Manager
	reg       *registry.Registry
	insert    Inserter

	consecutive *derive.ConsecutiveDiff
	interval    *derive.IntervalDiff

	mu             sync.RWMutex
	matcher        *pattern.Matcher
	patternByName  map[string]pattern.Match
	routeByTopic   map[string]ingestconfig.Route
}

// New builds a Router. Call UpdateSnapshot at least once before Route.
func New(schemaMgr *schema.Manager, reg *registry.Registry, insert Inserter) *Router {
	return &Router{
		schemaMgr:     schemaMgr,
		reg:           reg,
		insert:        insert,
		consecutive:   derive.NewConsecutiveDiff(),
		interval:      derive.NewIntervalDiff(),
		matcher:       pattern.New(nil),
		patternByName: map[string]pattern.Match{},
		routeByTopic:  map[string]ingestconfig.Route{},
	}
}

// UpdateSnapshot rebuilds the matcher and route index from a freshly
// reloaded config Snapshot. Safe to call concurrently with Route.
func (r *Router) UpdateSnapshot(snap ingestconfig.Snapshot) {
	matches := make([]pattern.Match, 0, len(snap.Patterns))
	byName := make(map[string]pattern.Match, len(snap.Patterns))
	for _, p := range snap.Patterns {
		m := toMatch(p)
		matches = append(matches, m)
		if m.Name != "" {
			byName[m.Name] = m
		}
	}
	byTopic := make(map[string]ingestconfig.Route, len(snap.Routes))
	for _, rt := range snap.Routes {
		byTopic[rt.Topic] = rt
	}

	r.mu.Lock()
	r.matcher = pattern.New(matches)
	r.patternByName = byName
	r.routeByTopic = byTopic
	r.mu.Unlock()
}

// Route processes one decoded payload for topic, honoring rule's
// pattern/table overrides when present.
func (r *Router) Route(topic string, p any, rule *ingestconfig.Rule) (Result, error) {
	r.mu.RLock()
	matcher := r.matcher
	patternByName := r.patternByName
	route, hasRoute := r.routeByTopic[topic]
	r.mu.RUnlock()

	matched, _ := matcher.Match(p)
	patternName := matched.Name
	matchedPattern := matched
	havePattern := matched.Name != ""

	if rule != nil && rule.PatternName != "" {
		patternName = rule.PatternName
		if rule.PatternName == "auto" {
			havePattern = false
		} else if override, ok := patternByName[rule.PatternName]; ok {
			matchedPattern = override
			havePattern = true
		}
	}

	autoColumns := payload.DataColumns(p)

	if havePattern && matchedPattern.Table != "" {
		return r.routePattern(topic, p, rule, route, hasRoute, matchedPattern, patternName, autoColumns)
	}
	return r.routeAuto(topic, p, rule, route, hasRoute, autoColumns)
}

func (r *Router) routePattern(topic string, p any, rule *ingestconfig.Rule, route ingestconfig.Route, hasRoute bool, pat pattern.Match, patternName string, autoColumns map[string]payload.ColumnType) (Result, error) {
	resolvedTable := formatTable(pat.Table, topic)

	columns := pat.Columns
	if pat.ColumnsAuto {
		columns = autoColumns
	}

	transformedPayload := p
	if len(pat.Transformations) > 0 {
		data, ok := payload.AsMap(p)
		if !ok {
			data = map[string]any{}
		}
		result := transform.Apply(data, topic, pat.Transformations)
		transformedPayload = result
		if pat.ColumnsAuto {
			columns = payload.DataColumns(transformedPayload)
		}
	}

	tableCfg := ingestconfig.TableConfig{Name: resolvedTable, AutoCreate: true, VersionOnConflict: true}
	finalTable, err := r.schemaMgr.Resolve(tableCfg, topic, "", columns)
	if err != nil {
		return Result{}, fmt.Errorf("resolve table for pattern %q: %w", patternName, err)
	}

	row := payload.ToRow(topic, transformedPayload)
	deviceID, hasDevice := extractDeviceID(transformedPayload, row)
	if !hasDevice {
		log.Printf("[ROUTER] skipped raw row insertion (no device id): topic=%s table=%s pattern=%s", topic, finalTable, patternName)
		return Result{Table: finalTable, Pattern: patternName, Columns: columns}, nil
	}

	return r.dispatch(topic, deviceID, row, rule, route, hasRoute, finalTable, patternName, columns)
}

func (r *Router) routeAuto(topic string, p any, rule *ingestconfig.Rule, route ingestconfig.Route, hasRoute bool, autoColumns map[string]payload.ColumnType) (Result, error) {
	tableCfg := ingestconfig.TableConfig{AutoCreate: true, VersionOnConflict: true}
	devicePattern := "*"
	if rule != nil {
		if rule.TableConfig.Name != "" || rule.TableConfig.TableOverride != nil {
			tableCfg = rule.TableConfig
		}
		if rule.Pattern != "" {
			devicePattern = rule.Pattern
		}
	}

	finalTable, err := r.schemaMgr.Resolve(tableCfg, topic, devicePattern, autoColumns)
	if err != nil {
		return Result{}, fmt.Errorf("resolve table for auto mode: %w", err)
	}

	row := payload.ToRow(topic, p)
	deviceID, hasDevice := extractDeviceID(p, row)
	if !hasDevice {
		log.Printf("[ROUTER] skipped raw row insertion (no device id): topic=%s table=%s pattern=auto", topic, finalTable)
		return Result{Table: finalTable, Pattern: "auto", Columns: autoColumns}, nil
	}

	return r.dispatch(topic, deviceID, row, rule, route, hasRoute, finalTable, "auto", autoColumns)
}

// dispatch runs the shared tail of both pattern and auto routing:
// consecutive-diff and interval-diff substreams, each resolving (and
// widening, if already present) its own suffixed companion table
// through schemaMgr before inserting, and registering the device.
// Mirrors router.py's duplicated diff/interval-diff handling in both
// branches of route(), where _ensure/ensure_columns runs against the
// companion table before every insert.
func (r *Router) dispatch(topic, deviceID string, row map[string]any, rule *ingestconfig.Rule, route ingestconfig.Route, hasRoute bool, table, patternName string, columns map[string]payload.ColumnType) (Result, error) {
	anyEmitted := false

	if diffRow, ok := r.consecutive.Process(topic, deviceID, row); ok {
		diffTable := table + "_diff"
		diffCfg := ingestconfig.TableConfig{Name: diffTable, AutoCreate: true, VersionOnConflict: false}
		if _, err := r.schemaMgr.Resolve(diffCfg, topic, "", columns); err != nil {
			return Result{}, fmt.Errorf("ensure companion table %q: %w", diffTable, err)
		}
		if err := r.insert.Insert(diffTable, diffRow, columns); err != nil {
			return Result{}, fmt.Errorf("insert diff row into %q: %w", diffTable, err)
		}
		if r.reg != nil {
			if _, err := r.reg.Register(topic, deviceID, diffTable, patternName, ""); err != nil {
				log.Printf("[ROUTER] device registry update failed: %v", err)
			}
		}
		anyEmitted = true
	}

	if cfg, enabled := intervalConfig(rule, route, hasRoute); enabled {
		if intervalRow, ok := r.interval.Process(topic, deviceID, row, cfg.FrequencyMinutes); ok {
			intervalTable := table + cfg.TableSuffix
			intervalCols := withIntervalColumns(columns)
			intervalCfg := ingestconfig.TableConfig{Name: intervalTable, AutoCreate: true, VersionOnConflict: false}
			if _, err := r.schemaMgr.Resolve(intervalCfg, topic, "", intervalCols); err != nil {
				return Result{}, fmt.Errorf("ensure interval companion table %q: %w", intervalTable, err)
			}
			if err := r.insert.Insert(intervalTable, intervalRow, intervalCols); err != nil {
				return Result{}, fmt.Errorf("insert interval diff row into %q: %w", intervalTable, err)
			}
			if r.reg != nil {
				if _, err := r.reg.Register(topic, deviceID, intervalTable, patternName+"_interval", ""); err != nil {
					log.Printf("[ROUTER] device registry update failed: %v", err)
				}
			}
			anyEmitted = true
		}
	}

	if !anyEmitted {
		log.Printf("[ROUTER] set baseline reading: topic=%s device=%s table=%s pattern=%s", topic, deviceID, table, patternName)
		if r.reg != nil {
			if _, err := r.reg.Register(topic, deviceID, table, patternName, ""); err != nil {
				log.Printf("[ROUTER] device registry update failed: %v", err)
			}
		}
		return Result{Table: table, Pattern: patternName, Columns: columns, Baseline: true}, nil
	}
	return Result{Table: table, Pattern: patternName, Columns: columns}, nil
}

func intervalConfig(rule *ingestconfig.Rule, route ingestconfig.Route, hasRoute bool) (ingestconfig.IntervalDifference, bool) {
	cfg := ingestconfig.IntervalDifference{FrequencyMinutes: 5, TableSuffix: "_interval_diff"}
	if hasRoute && route.IntervalDifference != nil {
		cfg = *route.IntervalDifference
	}
	if rule != nil && rule.IntervalDifference != nil {
		cfg = *rule.IntervalDifference
	}
	return cfg, cfg.Enabled
}

func withIntervalColumns(cols map[string]payload.ColumnType) map[string]payload.ColumnType {
	out := make(map[string]payload.ColumnType, len(cols)+5)
	for k, v := range cols {
		out[k] = v
	}
	out["interval_boundary"] = payload.TypeString
	out["start_P0_value"] = payload.TypeFloat
	out["start_P0_time"] = payload.TypeString
	out["end_P0_value"] = payload.TypeFloat
	out["end_P0_time"] = payload.TypeString
	return out
}

func formatTable(template, topic string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{topic}", safeTopic(topic))
}

// SQLInserter is the production Inserter, writing through the schema
// manager's underlying *sql.DB.
type SQLInserter struct {
	DB *sql.DB
}

// Insert appends row to table using an INSERT with only the columns
// present in row, matching db.py's dynamic insert behavior.
func (s SQLInserter) Insert(table string, row map[string]any, _ map[string]payload.ColumnType) error {
	if len(row) == 0 {
		return nil
	}
	cols := payload.SortedKeysAny(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		quoted[i] = fmt.Sprintf("%q", c)
		args[i] = row[c]
	}
	stmt := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	_, err := s.DB.Exec(stmt, args...)
	return err
}
