// Package bootstrap resolves the flat, scalar bootstrap settings
// needed before the ingestion document itself can be loaded: where the
// document lives, how often to poll it, and how verbosely to log.
// Adapted directly from dunnart.go's loadConfig — a pflag layer for
// the command line, an env layer for container deployments, and a
// dict layer for defaults, stacked with github.com/warthog618/config.
package bootstrap

import (
	"time"

	"github.com/warthog618/config"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
	"github.com/warthog618/config/pflag"
)

// Settings are the bootstrap scalars every binary in this repo needs
// before it can load its own domain configuration.
type Settings struct {
	ConfigFile    string
	PollInterval  time.Duration
	LogVerbose    bool
}

// Load resolves Settings from, in priority order, command line flags,
// environment variables carrying envPrefix, then built-in defaults.
// envPrefix lets cmd/alertmon share this loader under its own
// ALERTMON_ namespace while cmd/ingestor uses INGESTOR_.
func Load(envPrefix string) (Settings, error) {
	defCfg := dict.New()
	defCfg.Set("config-file", "config.yml")
	defCfg.Set("poll-interval", "15s")
	defCfg.Set("verbose", false)

	s := config.NewStack(
		pflag.New(pflag.WithFlags([]pflag.Flag{
			{Short: 'c', Name: "config-file"},
			{Short: 'p', Name: "poll-interval"},
			{Short: 'v', Name: "verbose"},
		})),
		env.New(env.WithEnvPrefix(envPrefix)),
		defCfg,
	)
	cfg := config.New(s, config.WithDefault(defCfg))

	out := Settings{
		ConfigFile:   cfg.MustGet("config-file").String(),
		PollInterval: cfg.MustGet("poll-interval", config.WithDefaultValue("15s")).Duration(),
		LogVerbose:   cfg.MustGet("verbose", config.WithDefaultValue(false)).Bool(),
	}
	return out, nil
}
