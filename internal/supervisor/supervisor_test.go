package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/avdsystems/ingestor/internal/brokerhub"
	"github.com/avdsystems/ingestor/internal/dbutil"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/registry"
	"github.com/avdsystems/ingestor/internal/router"
	"github.com/avdsystems/ingestor/internal/schema"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "supervisor_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New(db)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	rtr := router.New(schema.New(db), reg, &router.SQLInserter{DB: db})
	return New(brokerhub.New(), rtr)
}

func TestRebuildWithNoRoutesIsANoop(t *testing.T) {
	s := newTestSupervisor(t)
	s.Rebuild(ingestconfig.Snapshot{})
	if s.rebuilt != 1 {
		t.Fatalf("expected one rebuild to be recorded, got %d", s.rebuilt)
	}
}

func TestRebuildSkipsRouteWithUnknownBroker(t *testing.T) {
	s := newTestSupervisor(t)
	snap := ingestconfig.Snapshot{
		Routes: []ingestconfig.Route{
			{Topic: "gree1/+/power", BrokerName: "does-not-exist"},
		},
	}
	// Should log and skip rather than panic or attempt a connection.
	s.Rebuild(snap)
	if s.rebuilt != 1 {
		t.Fatalf("expected rebuild count to advance even when every route is skipped")
	}
}

func TestResolveConnMergesRouteOverrides(t *testing.T) {
	snap := ingestconfig.Snapshot{
		Brokers: map[string]ingestconfig.BrokerConn{
			"main": {Host: "broker.example", Port: 8883, Username: "svc"},
		},
	}
	route := ingestconfig.Route{
		BrokerName:     "main",
		BrokerOverride: ingestconfig.BrokerConn{Port: 1883},
	}

	conn, ok := resolveConn(snap, route)
	if !ok {
		t.Fatalf("expected broker to resolve")
	}
	if conn.Host != "broker.example" {
		t.Fatalf("expected host inherited from named broker, got %q", conn.Host)
	}
	if conn.Port != 1883 {
		t.Fatalf("expected route override port to win, got %d", conn.Port)
	}
	if conn.Username != "svc" {
		t.Fatalf("expected username inherited from named broker, got %q", conn.Username)
	}
}

func TestResolveConnUnknownBrokerWithNoOverrideFails(t *testing.T) {
	_, ok := resolveConn(ingestconfig.Snapshot{}, ingestconfig.Route{BrokerName: "missing"})
	if ok {
		t.Fatalf("expected resolution to fail for an unknown broker with no override")
	}
}
