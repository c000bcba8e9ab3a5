package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server       ServerConfig       `toml:"server"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Knowledge    KnowledgeConfig    `toml:"knowledge"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Consensus    ConsensusConfig    `toml:"consensus"`
	Messaging    MessagingConfig    `toml:"messaging"`
	Supervisor   SupervisorConfig   `toml:"supervisor"`
	Breaker      BreakerConfig      `toml:"circuit_breaker"`
	Observer     ObserverConfig     `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type OrchestratorConfig struct {
	MaxAgents           int   `toml:"max_agents"`
	DefaultAgentTimeout int64 `toml:"default_agent_timeout_ms"`
	Sections            int   `toml:"sections"`
}

type KnowledgeConfig struct {
	MaxEntries  int    `toml:"max_entries"`
	Persistence bool   `toml:"persistence"`
	StoragePath string `toml:"storage_path"`
	PostgresURL string `toml:"postgres_url"`
}

type SchedulerConfig struct {
	MaxQueueSize int `toml:"max_queue_size"`
}

type ConsensusConfig struct {
	DefaultType   string `toml:"default_type"`
	VotingTimeout int64  `toml:"voting_timeout_ms"`
}

type MessagingConfig struct {
	Retention       int64 `toml:"retention_ms"`
	MaxMessageSize  int   `toml:"max_message_size"`
	MailboxCapacity int   `toml:"mailbox_capacity"`
}

type SupervisorConfig struct {
	HealthCheckInterval int64 `toml:"health_check_interval_ms"`
	MaxRestartWindow    int64 `toml:"max_restart_window_ms"`
	MaxRestarts         int   `toml:"max_restarts"`
}

type BreakerConfig struct {
	FailureThreshold int   `toml:"failure_threshold"`
	SuccessThreshold int   `toml:"success_threshold"`
	OpenTimeout      int64 `toml:"open_timeout_ms"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8088"},
		Orchestrator: OrchestratorConfig{
			MaxAgents:           10,
			DefaultAgentTimeout: 300_000,
			Sections:            10,
		},
		Knowledge: KnowledgeConfig{
			MaxEntries:  10_000,
			StoragePath: "hive.db",
		},
		Scheduler: SchedulerConfig{MaxQueueSize: 1000},
		Consensus: ConsensusConfig{
			DefaultType:   "simple_majority",
			VotingTimeout: 60_000,
		},
		Messaging: MessagingConfig{
			Retention:       86_400_000,
			MaxMessageSize:  1_048_576,
			MailboxCapacity: 10_000,
		},
		Supervisor: SupervisorConfig{
			HealthCheckInterval: 1000,
			MaxRestartWindow:    60_000,
			MaxRestarts:         3,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30_000,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "hive.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("HIVE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := envInt("HIVE_MAX_AGENTS"); ok {
		cfg.Orchestrator.MaxAgents = v
	}
	if v, ok := envInt("HIVE_KNOWLEDGE_MAX_ENTRIES"); ok {
		cfg.Knowledge.MaxEntries = v
	}
	if v := os.Getenv("HIVE_KNOWLEDGE_STORAGE_PATH"); v != "" {
		cfg.Knowledge.StoragePath = v
	}
	if v := os.Getenv("HIVE_POSTGRES_URL"); v != "" {
		cfg.Knowledge.PostgresURL = v
	}
	if v := os.Getenv("HIVE_KNOWLEDGE_PERSISTENCE"); v == "true" || v == "1" {
		cfg.Knowledge.Persistence = true
	}
	if v, ok := envInt("HIVE_SCHEDULER_MAX_QUEUE_SIZE"); ok {
		cfg.Scheduler.MaxQueueSize = v
	}
	if v := os.Getenv("HIVE_CONSENSUS_DEFAULT_TYPE"); v != "" {
		cfg.Consensus.DefaultType = v
	}
	if v, ok := envInt("HIVE_MAILBOX_CAPACITY"); ok {
		cfg.Messaging.MailboxCapacity = v
	}
	if v := os.Getenv("HIVE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
