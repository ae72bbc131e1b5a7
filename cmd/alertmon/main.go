// Command alertmon boots the secondary threshold-alert monitor: a
// smaller, separate process from the core ingestor that subscribes to
// the same routes, evaluates readings against a db-backed threshold
// cache, and republishes violations at QoS 1. Adapted from
// original_source/alert_monitor.py's AlertMonitor.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/avdsystems/ingestor/internal/alert"
	"github.com/avdsystems/ingestor/internal/bootstrap"
	"github.com/avdsystems/ingestor/internal/brokerhub"
	"github.com/avdsystems/ingestor/internal/dbutil"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
)

func main() {
	log.SetFlags(0)

	settings, err := bootstrap.Load("ALERTMON_")
	if err != nil {
		log.Fatal(errors.Wrap(err, "[ALERTMON] bootstrap"))
	}

	src, err := ingestconfig.Load(settings.ConfigFile)
	if err != nil {
		log.Fatal(errors.Wrapf(err, "[ALERTMON] load config %s", settings.ConfigFile))
	}
	src.SetPollInterval(settings.PollInterval)

	snap := src.Current()
	if !snap.Alerts.Enabled {
		log.Print("[ALERTMON] alert monitoring is disabled in configuration")
		return
	}

	db, err := dbutil.Open(snap.Database.URI)
	if err != nil {
		log.Fatal(errors.Wrap(err, "[ALERTMON] open database"))
	}
	defer db.Close()

	cache, err := alert.NewThresholdCache(db, 0)
	if err != nil {
		log.Fatal(errors.Wrap(err, "[ALERTMON] init threshold cache"))
	}

	hub := brokerhub.New()
	alertConn, ok := snap.Brokers[snap.Alerts.MQTTServer]
	if !ok {
		log.Fatal(errors.Errorf("[ALERTMON] alerts.mqtt_server %q is not a configured broker", snap.Alerts.MQTTServer))
	}
	publisher := alert.HubPublisher{Hub: hub, Conn: alertConn}
	monitor := alert.NewMonitor(cache, publisher, snap.Alerts.AlertTopic)

	subscribe := func(s ingestconfig.Snapshot) {
		hub.ClearAll()
		for _, route := range s.Routes {
			conn, ok := s.Brokers[route.BrokerName]
			if !ok {
				log.Printf("[ALERTMON] route %q references unknown broker %q, skipping", route.Topic, route.BrokerName)
				continue
			}
			if err := hub.AddSub(conn, route.Topic, "*", 1, monitor.HandleMessage); err != nil {
				log.Printf("[ALERTMON] failed to subscribe %s: %v", route.Topic, err)
				continue
			}
			log.Printf("[ALERTMON] subscribed to %s", route.Topic)
		}
	}
	subscribe(snap)
	src.Subscribe(subscribe)
	src.Watch()
	defer src.Close()

	sigdone := make(chan os.Signal, 1)
	signal.Notify(sigdone, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigdone)

	log.Print("[ALERTMON] running")
	<-sigdone
	log.Print("[ALERTMON] shutting down")
	hub.StopAll()
}
