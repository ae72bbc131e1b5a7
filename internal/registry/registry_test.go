package registry

import (
	"path/filepath"
	"testing"

	"github.com/avdsystems/ingestor/internal/dbutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "registry_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	r, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRegisterNewDevice(t *testing.T) {
	r := newTestRegistry(t)
	isNew, err := r.Register("gree1/42/status", "42", "gree1_auto_2", "power", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !isNew {
		t.Fatalf("expected new device")
	}

	d, err := r.Find("gree1/42/status", "42")
	if err != nil || d == nil {
		t.Fatalf("Find: %v %+v", err, d)
	}
	if d.MessageCount != 1 || d.TableName != "gree1_auto_2" {
		t.Fatalf("unexpected device: %+v", d)
	}
}

func TestRegisterExistingDeviceIncrementsCount(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("t", "1", "table_a", "p1", "")
	isNew, err := r.Register("t", "1", "table_a", "p1", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if isNew {
		t.Fatalf("expected existing device update, not new")
	}
	d, _ := r.Find("t", "1")
	if d.MessageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", d.MessageCount)
	}
}

func TestRegisterPreservesDeviceNameWhenNotProvided(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("t", "1", "table_a", "p1", "Living Room")
	r.Register("t", "1", "table_a", "p1", "")
	d, _ := r.Find("t", "1")
	if d.DeviceName != "Living Room" {
		t.Fatalf("expected preserved name, got %q", d.DeviceName)
	}
}

func TestSetName(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("t", "1", "table_a", "", "")
	ok, err := r.SetName("t", "1", "Kitchen")
	if err != nil || !ok {
		t.Fatalf("SetName: ok=%v err=%v", ok, err)
	}
	d, _ := r.Find("t", "1")
	if d.DeviceName != "Kitchen" {
		t.Fatalf("expected Kitchen, got %q", d.DeviceName)
	}

	ok, err = r.SetName("t", "missing", "x")
	if err != nil || ok {
		t.Fatalf("expected no match for missing device, ok=%v err=%v", ok, err)
	}
}

func TestFindByTopicAndTable(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("t1", "a", "table_x", "", "")
	r.Register("t1", "b", "table_x", "", "")
	r.Register("t2", "a", "table_y", "", "")

	byTopic, err := r.FindByTopic("t1")
	if err != nil || len(byTopic) != 2 {
		t.Fatalf("FindByTopic: %v %+v", err, byTopic)
	}
	byTable, err := r.FindByTable("table_x")
	if err != nil || len(byTable) != 2 {
		t.Fatalf("FindByTable: %v %+v", err, byTable)
	}
}

func TestGetStats(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("t1", "a", "table_x", "", "")
	r.Register("t1", "b", "table_x", "", "Living Room Sensor")
	r.Register("t2", "a", "table_y", "", "")

	stats, err := r.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalDevices != 3 {
		t.Fatalf("expected 3 total devices, got %d", stats.TotalDevices)
	}
	if stats.NamedDevices != 1 {
		t.Fatalf("expected 1 named device, got %d", stats.NamedDevices)
	}
	if stats.UnnamedDevices != 2 {
		t.Fatalf("expected 2 unnamed devices, got %d", stats.UnnamedDevices)
	}
	if stats.PerTopic["t1"] != 2 || stats.PerTopic["t2"] != 1 {
		t.Fatalf("unexpected per-topic counts: %+v", stats.PerTopic)
	}
	if stats.PerTable["table_x"] != 2 {
		t.Fatalf("unexpected per-table counts: %+v", stats.PerTable)
	}
}
