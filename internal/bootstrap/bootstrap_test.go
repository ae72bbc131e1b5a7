package bootstrap

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	s, err := Load("INGESTOR_")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ConfigFile != "config.yml" {
		t.Fatalf("expected default config-file, got %q", s.ConfigFile)
	}
	if s.PollInterval != 15*time.Second {
		t.Fatalf("expected default poll-interval of 15s, got %v", s.PollInterval)
	}
	if s.LogVerbose {
		t.Fatalf("expected verbose to default to false")
	}
}

func TestLoadDefaultsIdenticalAcrossPrefixes(t *testing.T) {
	os.Clearenv()
	ingestorSettings, err := Load("INGESTOR_")
	if err != nil {
		t.Fatalf("Load(INGESTOR_): %v", err)
	}
	alertmonSettings, err := Load("ALERTMON_")
	if err != nil {
		t.Fatalf("Load(ALERTMON_): %v", err)
	}
	if ingestorSettings != alertmonSettings {
		t.Fatalf("expected identical defaults regardless of prefix when no env vars are set")
	}
}
