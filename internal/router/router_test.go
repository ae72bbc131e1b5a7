package router

import (
	"path/filepath"
	"testing"

	"github.com/avdsystems/ingestor/internal/dbutil"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/payload"
	"github.com/avdsystems/ingestor/internal/registry"
	"github.com/avdsystems/ingestor/internal/schema"
)

type fakeInserter struct {
	rows []fakeRow
}

type fakeRow struct {
	table string
	row   map[string]any
}

func (f *fakeInserter) Insert(table string, row map[string]any, _ map[string]payload.ColumnType) error {
	f.rows = append(f.rows, fakeRow{table: table, row: row})
	return nil
}

func newTestRouter(t *testing.T) (*Router, *fakeInserter) {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "router_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New(db)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	ins := &fakeInserter{}
	r := New(schema.New(db), reg, ins)
	return r, ins
}

func TestRouteAutoFirstSampleIsBaselineNoInsert(t *testing.T) {
	r, ins := newTestRouter(t)
	result, err := r.Route("Gree1", map[string]any{
		"DeviceID": "103", "Date": "01012024", "Time": "120000",
		"P0": "10", "P1": "20", "P2": "30", "P3": "40", "P4": "50", "P5": "60",
	}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !result.Baseline {
		t.Fatalf("expected baseline result, got %+v", result)
	}
	if len(ins.rows) != 0 {
		t.Fatalf("expected no inserts on baseline, got %+v", ins.rows)
	}
	if result.Table != "gree1_9" {
		t.Fatalf("expected param-bucket table gree1_9, got %s", result.Table)
	}
}

func TestRouteAutoSecondSampleInsertsDiff(t *testing.T) {
	r, ins := newTestRouter(t)
	base := map[string]any{
		"DeviceID": "103", "Date": "01012024", "Time": "120000",
		"P0": "10", "P1": "20", "P2": "30", "P3": "40", "P4": "50", "P5": "60",
	}
	if _, err := r.Route("Gree1", base, nil); err != nil {
		t.Fatalf("Route baseline: %v", err)
	}

	next := map[string]any{
		"DeviceID": "103", "Date": "01012024", "Time": "120005",
		"P0": "15", "P1": "25", "P2": "35", "P3": "45", "P4": "55", "P5": "65",
	}
	result, err := r.Route("Gree1", next, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Baseline {
		t.Fatalf("expected non-baseline result")
	}
	if len(ins.rows) != 1 {
		t.Fatalf("expected one diff insert, got %d", len(ins.rows))
	}
	got := ins.rows[0]
	if got.table != "gree1_9_diff" {
		t.Fatalf("unexpected diff table: %s", got.table)
	}
	if got.row["P0"] != 5.0 {
		t.Fatalf("expected P0 diff of 5, got %v", got.row["P0"])
	}
}

func TestRouteWithPatternUsesConfiguredTable(t *testing.T) {
	r, ins := newTestRouter(t)
	r.UpdateSnapshot(ingestconfig.Snapshot{
		Patterns: []ingestconfig.Pattern{
			{
				Name:        "power",
				MatchKeys:   []string{"DeviceID", "P0"},
				ColumnsAuto: true,
				Table:       "power_readings_{topic}",
			},
		},
	})

	if _, err := r.Route("energy1/power", map[string]any{"DeviceID": "m1", "P0": 10.0}, nil); err != nil {
		t.Fatalf("Route baseline: %v", err)
	}
	result, err := r.Route("energy1/power", map[string]any{"DeviceID": "m1", "P0": 25.0}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Table != "power_readings_energy1_power" {
		t.Fatalf("unexpected table: %s", result.Table)
	}
	if len(ins.rows) != 1 || ins.rows[0].table != "power_readings_energy1_power_diff" {
		t.Fatalf("unexpected insert: %+v", ins.rows)
	}
}

func TestRouteWithoutDeviceIDSkipsInsertion(t *testing.T) {
	r, ins := newTestRouter(t)
	result, err := r.Route("misc/topic", map[string]any{"Value": 1.0}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Baseline {
		t.Fatalf("no-device-id path should not report baseline")
	}
	if len(ins.rows) != 0 {
		t.Fatalf("expected no inserts without a device id, got %+v", ins.rows)
	}
}

func TestRouteWithRealInserterCreatesCompanionTables(t *testing.T) {
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "router_real_insert_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New(db)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	r := New(schema.New(db), reg, &SQLInserter{DB: db})

	base := map[string]any{
		"DeviceID": "103", "Date": "01012024", "Time": "120000",
		"P0": "10", "P1": "20", "P2": "30", "P3": "40", "P4": "50", "P5": "60",
	}
	if _, err := r.Route("Gree1", base, nil); err != nil {
		t.Fatalf("Route baseline: %v", err)
	}

	next := map[string]any{
		"DeviceID": "103", "Date": "01012024", "Time": "120005",
		"P0": "15", "P1": "25", "P2": "35", "P3": "45", "P4": "55", "P5": "65",
	}
	if _, err := r.Route("Gree1", next, nil); err != nil {
		t.Fatalf("Route: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "gree1_9_diff"`).Scan(&count); err != nil {
		t.Fatalf("expected gree1_9_diff to exist and be queryable, got: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row in gree1_9_diff, got %d", count)
	}

	var p0 float64
	if err := db.QueryRow(`SELECT "P0" FROM "gree1_9_diff" LIMIT 1`).Scan(&p0); err != nil {
		t.Fatalf("select P0 from gree1_9_diff: %v", err)
	}
	if p0 != 5.0 {
		t.Fatalf("expected P0 diff of 5, got %v", p0)
	}
}

func TestRouteInsertsIntervalDiffWhenConfigured(t *testing.T) {
	r, ins := newTestRouter(t)
	rule := &ingestconfig.Rule{
		IntervalDifference: &ingestconfig.IntervalDifference{Enabled: true, FrequencyMinutes: 5, TableSuffix: "_interval_diff"},
	}

	samples := []struct {
		ts string
		p0 float64
	}{
		{"120030", 100}, {"120210", 110}, {"120615", 150}, {"121105", 200},
	}
	var last Result
	for _, s := range samples {
		res, err := r.Route("t", map[string]any{"DeviceID": "1", "ts": s.ts, "P0": s.p0}, rule)
		if err != nil {
			t.Fatalf("Route: %v", err)
		}
		last = res
	}
	_ = last

	found := false
	for _, row := range ins.rows {
		if row.table == "t_auto_3_interval_diff" {
			found = true
			if row.row["P0"] != 40.0 {
				t.Fatalf("expected interval P0 diff 40, got %v", row.row["P0"])
			}
		}
	}
	if !found {
		t.Fatalf("expected an interval diff insert, got %+v", ins.rows)
	}
}
