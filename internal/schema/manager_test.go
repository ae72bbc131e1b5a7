package schema

import (
	"path/filepath"
	"testing"

	"github.com/avdsystems/ingestor/internal/dbutil"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/payload"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema_test.db")
	db, err := dbutil.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestResolveCreatesTableOnFirstSight(t *testing.T) {
	m := newTestManager(t)
	cols := map[string]payload.ColumnType{"DeviceID": payload.TypeString, "Temp": payload.TypeFloat}

	name, err := m.Resolve(ingestconfig.TableConfig{AutoCreate: true, VersionOnConflict: true}, "gree1/42/status", "*", cols)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "gree1_42_status_auto_2" {
		t.Fatalf("unexpected table name: %s", name)
	}

	exists, err := m.tableExists(name)
	if err != nil || !exists {
		t.Fatalf("expected table to exist, exists=%v err=%v", exists, err)
	}
}

func TestResolveUsesParamBucketName(t *testing.T) {
	m := newTestManager(t)
	cols := map[string]payload.ColumnType{
		"A": payload.TypeFloat, "B": payload.TypeFloat, "C": payload.TypeFloat, "D": payload.TypeFloat,
	}
	name, err := m.Resolve(ingestconfig.TableConfig{AutoCreate: true}, "energy1/power", "*", cols)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "energy1_power_4" {
		t.Fatalf("expected param-bucket name, got %s", name)
	}
}

func TestResolveWidensCompatibleSchema(t *testing.T) {
	m := newTestManager(t)
	cfg := ingestconfig.TableConfig{Name: "sensor_readings", AutoCreate: true, VersionOnConflict: true}

	first := map[string]payload.ColumnType{"Temp": payload.TypeFloat}
	name, err := m.Resolve(cfg, "t", "*", first)
	if err != nil {
		t.Fatalf("Resolve first: %v", err)
	}

	second := map[string]payload.ColumnType{"Temp": payload.TypeFloat, "Humidity": payload.TypeFloat}
	name2, err := m.Resolve(cfg, "t", "*", second)
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if name2 != name {
		t.Fatalf("expected same table reused, got %s vs %s", name2, name)
	}

	schema, err := m.tableSchema(name)
	if err != nil {
		t.Fatalf("tableSchema: %v", err)
	}
	if _, ok := schema["Humidity"]; !ok {
		t.Fatalf("expected Humidity column added, schema=%+v", schema)
	}
}

func TestResolveCreatesVersionedTableOnTypeConflict(t *testing.T) {
	m := newTestManager(t)
	cfg := ingestconfig.TableConfig{Name: "conflict_table", AutoCreate: true, VersionOnConflict: true}

	first := map[string]payload.ColumnType{"Value": payload.TypeString}
	name, err := m.Resolve(cfg, "t", "*", first)
	if err != nil {
		t.Fatalf("Resolve first: %v", err)
	}

	second := map[string]payload.ColumnType{"Value": payload.TypeBoolean}
	name2, err := m.Resolve(cfg, "t", "*", second)
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	if name2 == name {
		t.Fatalf("expected a versioned table on type conflict, got same name %s", name)
	}
	if name2 != "conflict_table_v1" {
		t.Fatalf("expected conflict_table_v1, got %s", name2)
	}
}

func TestResolveSkipsCreationWhenAutoCreateDisabled(t *testing.T) {
	m := newTestManager(t)
	name, err := m.Resolve(ingestconfig.TableConfig{Name: "manual_table", AutoCreate: false}, "t", "*", map[string]payload.ColumnType{"A": payload.TypeFloat})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "manual_table" {
		t.Fatalf("unexpected name: %s", name)
	}
	exists, _ := m.tableExists(name)
	if exists {
		t.Fatalf("expected table not to be created")
	}
}

func TestTypesCompatible(t *testing.T) {
	cases := []struct {
		existing, required payload.ColumnType
		want                bool
	}{
		{payload.TypeInt, payload.TypeFloat, true},
		{payload.TypeString, payload.TypeJSON, true},
		{payload.TypeJSON, payload.TypeString, true},
		{payload.TypeFloat, payload.TypeInt, false},
		{payload.TypeBoolean, payload.TypeString, false},
	}
	for _, c := range cases {
		if got := typesCompatible(c.existing, c.required); got != c.want {
			t.Errorf("typesCompatible(%s, %s) = %v, want %v", c.existing, c.required, got, c.want)
		}
	}
}
