package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8088" {
		t.Errorf("Addr = %q, want :8088", cfg.Server.Addr)
	}
	if cfg.Orchestrator.MaxAgents != 10 || cfg.Orchestrator.Sections != 10 {
		t.Errorf("orchestrator defaults = %+v", cfg.Orchestrator)
	}
	if cfg.Knowledge.MaxEntries != 10_000 || cfg.Knowledge.StoragePath != "hive.db" {
		t.Errorf("knowledge defaults = %+v", cfg.Knowledge)
	}
	if cfg.Consensus.DefaultType != "simple_majority" || cfg.Consensus.VotingTimeout != 60_000 {
		t.Errorf("consensus defaults = %+v", cfg.Consensus)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.SuccessThreshold != 2 || cfg.Breaker.OpenTimeout != 30_000 {
		t.Errorf("breaker defaults = %+v", cfg.Breaker)
	}
	if cfg.Messaging.MailboxCapacity != 10_000 || cfg.Messaging.MaxMessageSize != 1_048_576 {
		t.Errorf("messaging defaults = %+v", cfg.Messaging)
	}
	if cfg.Observer.Enabled {
		t.Error("observer enabled by default")
	}
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg != Default() {
		t.Errorf("Load with missing file = %+v, want defaults", cfg)
	}
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.toml")
	data := `
[server]
addr = ":9999"

[orchestrator]
max_agents = 25

[knowledge]
persistence = true
storage_path = "/tmp/kb.db"

[circuit_breaker]
failure_threshold = 8
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.Orchestrator.MaxAgents != 25 {
		t.Errorf("MaxAgents = %d, want 25", cfg.Orchestrator.MaxAgents)
	}
	if !cfg.Knowledge.Persistence || cfg.Knowledge.StoragePath != "/tmp/kb.db" {
		t.Errorf("knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Breaker.FailureThreshold != 8 {
		t.Errorf("FailureThreshold = %d, want 8", cfg.Breaker.FailureThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Scheduler.MaxQueueSize != 1000 {
		t.Errorf("MaxQueueSize = %d, want default 1000", cfg.Scheduler.MaxQueueSize)
	}
}

func TestLoad_EnvWinsOverTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.toml")
	if err := os.WriteFile(path, []byte("[server]\naddr = \":9999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HIVE_ADDR", ":7777")
	t.Setenv("HIVE_MAX_AGENTS", "42")
	t.Setenv("HIVE_KNOWLEDGE_PERSISTENCE", "true")
	t.Setenv("HIVE_CONSENSUS_DEFAULT_TYPE", "unanimous")

	cfg := Load(path)
	if cfg.Server.Addr != ":7777" {
		t.Errorf("Addr = %q, want env override :7777", cfg.Server.Addr)
	}
	if cfg.Orchestrator.MaxAgents != 42 {
		t.Errorf("MaxAgents = %d, want 42", cfg.Orchestrator.MaxAgents)
	}
	if !cfg.Knowledge.Persistence {
		t.Error("persistence not enabled via env")
	}
	if cfg.Consensus.DefaultType != "unanimous" {
		t.Errorf("DefaultType = %q, want unanimous", cfg.Consensus.DefaultType)
	}
}

func TestLoad_MalformedEnvIgnored(t *testing.T) {
	t.Setenv("HIVE_MAX_AGENTS", "lots")
	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Orchestrator.MaxAgents != 10 {
		t.Errorf("MaxAgents = %d with junk env, want default 10", cfg.Orchestrator.MaxAgents)
	}
}
