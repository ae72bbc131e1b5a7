package brokerhub

import (
	"testing"

	"github.com/avdsystems/ingestor/internal/ingestconfig"
)

func TestConnKeyIdentifiesPhysicalConnection(t *testing.T) {
	a := ingestconfig.BrokerConn{Host: "broker.local", Port: 1883, Username: "svc"}
	b := ingestconfig.BrokerConn{Host: "broker.local", Port: 1883, Username: "svc"}
	c := ingestconfig.BrokerConn{Host: "broker.local", Port: 8883, Username: "svc"}

	if connKey(a) != connKey(b) {
		t.Fatalf("identical connection tuples should share a key")
	}
	if connKey(a) == connKey(c) {
		t.Fatalf("different ports should not share a key")
	}

	d := ingestconfig.BrokerConn{Host: "broker.local", Port: 1883, Username: "svc", Password: "p1"}
	e := ingestconfig.BrokerConn{Host: "broker.local", Port: 1883, Username: "svc", Password: "p2"}
	if connKey(d) == connKey(e) {
		t.Fatalf("different passwords should not share a key")
	}

	f := ingestconfig.BrokerConn{Host: "broker.local", Port: 1883, Username: "svc", CACertPath: "/ca1.pem"}
	g := ingestconfig.BrokerConn{Host: "broker.local", Port: 1883, Username: "svc", CACertPath: "/ca2.pem"}
	if connKey(f) == connKey(g) {
		t.Fatalf("different CA certs should not share a key")
	}
}

func TestNewHubStartsEmpty(t *testing.T) {
	h := New()
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections on a fresh hub, got %d", h.ConnectionCount())
	}
	h.ClearAll()
	h.StopAll()
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after StopAll on an empty hub")
	}
}
