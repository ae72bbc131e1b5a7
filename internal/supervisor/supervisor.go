// Package supervisor implements the Supervisor (C9): it reacts to
// each new ConfigSource snapshot by rebuilding the BrokerHub's
// subscriptions and pushing the snapshot into the Router. Grounded on
// original_source/main.py's build_subs/on_change wiring.
package supervisor

import (
	"log"
	"sync"

	"github.com/avdsystems/ingestor/internal/brokerhub"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/router"
)

const routeQoS byte = 1

// Supervisor owns the live link between configuration snapshots and
// the running subscription set.
type Supervisor struct {
	hub    *brokerhub.Hub
	router *router.Router

	mu      sync.Mutex
	rebuilt int
}

// New returns a Supervisor that drives hub and router from snapshots.
func New(hub *brokerhub.Hub, rtr *router.Router) *Supervisor {
	return &Supervisor{hub: hub, router: rtr}
}

// Rebuild is an ingestconfig.Subscriber: on every snapshot it updates
// the router's pattern/route index, clears every existing handler, and
// re-subscribes according to the new routes. Mirrors build_subs being
// called both at startup and from ConfigLoader.on_change.
func (s *Supervisor) Rebuild(snap ingestconfig.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.router.UpdateSnapshot(snap)
	s.hub.ClearAll()

	for i := range snap.Routes {
		route := snap.Routes[i]
		conn, ok := resolveConn(snap, route)
		if !ok {
			log.Printf("[SUPERVISOR] route %q references unknown broker %q, skipping", route.Topic, route.BrokerName)
			continue
		}

		if len(route.DeviceIDs) == 0 {
			s.subscribe(conn, route, nil, "*")
			continue
		}
		for j := range route.DeviceIDs {
			rule := route.DeviceIDs[j]
			devicePattern := rule.Pattern
			if devicePattern == "" {
				devicePattern = "*"
			}
			s.subscribe(conn, route, &rule, devicePattern)
		}
	}
	s.rebuilt++
	log.Printf("[SUPERVISOR] subscriptions rebuilt for %d route(s)", len(snap.Routes))
}

func (s *Supervisor) subscribe(conn ingestconfig.BrokerConn, route ingestconfig.Route, rule *ingestconfig.Rule, devicePattern string) {
	handler := func(topic string, data any) {
		if _, err := s.router.Route(topic, data, rule); err != nil {
			log.Printf("[SUPERVISOR] route error on %s: %v", topic, err)
		}
	}
	if err := s.hub.AddSub(conn, route.Topic, devicePattern, routeQoS, handler); err != nil {
		log.Printf("[SUPERVISOR] failed to subscribe %s: %v", route.Topic, err)
	}
}

// resolveConn merges the named broker's connection with the route's
// own overrides, route-level fields winning, mirroring main.py's
// build_subs connection-dict construction.
func resolveConn(snap ingestconfig.Snapshot, route ingestconfig.Route) (ingestconfig.BrokerConn, bool) {
	base, ok := snap.Brokers[route.BrokerName]
	if !ok {
		if route.BrokerOverride.Host == "" {
			return ingestconfig.BrokerConn{}, false
		}
		return route.BrokerOverride, true
	}
	merged := base
	if route.BrokerOverride.Host != "" {
		merged.Host = route.BrokerOverride.Host
	}
	if route.BrokerOverride.Port != 0 {
		merged.Port = route.BrokerOverride.Port
	}
	if route.BrokerOverride.Username != "" {
		merged.Username = route.BrokerOverride.Username
	}
	if route.BrokerOverride.Password != "" {
		merged.Password = route.BrokerOverride.Password
	}
	if route.BrokerOverride.CACertPath != "" {
		merged.CACertPath = route.BrokerOverride.CACertPath
	}
	return merged, true
}
