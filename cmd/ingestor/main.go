// Command ingestor boots the core MQTT-to-relational ingestion engine:
// it loads bootstrap settings, starts the polling/fsnotify config
// source, opens the relational backend, and wires the schema manager,
// device registry, router, broker hub, and supervisor together.
// Adapted from dunnart.go's main(): signal-driven graceful shutdown
// around a long-lived background loop.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/avdsystems/ingestor/internal/bootstrap"
	"github.com/avdsystems/ingestor/internal/brokerhub"
	"github.com/avdsystems/ingestor/internal/dbutil"
	"github.com/avdsystems/ingestor/internal/ingestconfig"
	"github.com/avdsystems/ingestor/internal/registry"
	"github.com/avdsystems/ingestor/internal/router"
	"github.com/avdsystems/ingestor/internal/schema"
	"github.com/avdsystems/ingestor/internal/supervisor"
)

func main() {
	log.SetFlags(0)

	settings, err := bootstrap.Load("INGESTOR_")
	if err != nil {
		log.Fatal(errors.Wrap(err, "[INGESTOR] bootstrap"))
	}

	src, err := ingestconfig.Load(settings.ConfigFile)
	if err != nil {
		log.Fatal(errors.Wrapf(err, "[INGESTOR] load config %s", settings.ConfigFile))
	}
	src.SetPollInterval(settings.PollInterval)

	snap := src.Current()
	db, err := dbutil.Open(snap.Database.URI)
	if err != nil {
		log.Fatal(errors.Wrap(err, "[INGESTOR] open database"))
	}
	defer db.Close()

	reg, err := registry.New(db)
	if err != nil {
		log.Fatal(errors.Wrap(err, "[INGESTOR] init device registry"))
	}

	schemaMgr := schema.New(db)
	hub := brokerhub.New()
	rtr := router.New(schemaMgr, reg, &router.SQLInserter{DB: db})
	sup := supervisor.New(hub, rtr)

	sup.Rebuild(snap)
	src.Subscribe(sup.Rebuild)

	src.Watch()
	defer src.Close()

	sigdone := make(chan os.Signal, 1)
	signal.Notify(sigdone, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigdone)

	log.Printf("[INGESTOR] running, config=%s poll=%s", settings.ConfigFile, settings.PollInterval)
	<-sigdone
	log.Print("[INGESTOR] shutting down")
	hub.StopAll()
}
