// Package config provides configuration loading for the orchestration core.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and hardcoded defaults, using the same koanf-based layering
// the rest of the platform uses.
package config

import (
	"errors"
	"fmt"
)

// Config holds the complete orchestrator configuration.
type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	Store      StoreConfig      `koanf:"store"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Step       StepConfig       `koanf:"step"`
	AgentLoop  AgentLoopConfig  `koanf:"agent_loop"`
	Workspace  WorkspaceConfig  `koanf:"workspace"`
	LLM        LLMConfig        `koanf:"llm"`
	Events     EventsConfig     `koanf:"events"`
	Memory     MemoryConfig     `koanf:"memory"`
	RepoEnrich RepoEnrichConfig `koanf:"repo_enrich"`
}

// HTTPConfig holds job-control HTTP server configuration.
type HTTPConfig struct {
	ListenAddr      string   `koanf:"listen_addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds durable store configuration.
type StoreConfig struct {
	Path string `koanf:"path"` // SQLite database file, or ":memory:"
}

// SchedulerConfig holds step scheduler tunables.
type SchedulerConfig struct {
	ClaimTick      Duration `koanf:"claim_tick"`      // how often the scheduler polls for a claimable step
	ReclaimTick    Duration `koanf:"reclaim_tick"`    // how often the scheduler sweeps for stalled steps
	WorkerPoolSize int      `koanf:"worker_pool_size"`
	StallCutoff    Duration `koanf:"stall_cutoff"` // a RUNNING step with no heartbeat since this long ago is stalled
}

// StepConfig holds step lifecycle tunables.
type StepConfig struct {
	MaxAttempts int `koanf:"max_attempts"`
}

// AgentLoopConfig holds multi-turn agent loop tunables.
type AgentLoopConfig struct {
	MaxTurns                  int      `koanf:"max_turns"`
	HeartbeatEvery            int      `koanf:"heartbeat_every"` // heartbeat every N turns
	MaxObservationChars       int      `koanf:"max_observation_chars"`
	HistoryResumeTokenCeiling int      `koanf:"history_resume_token_ceiling"`
	RateLimitBackoff          Duration `koanf:"rate_limit_backoff"`
}

// WorkspaceConfig holds workspace client configuration.
type WorkspaceConfig struct {
	BaseURL        string   `koanf:"base_url"`
	RequestTimeout Duration `koanf:"request_timeout"`
	DeleteTimeout  Duration `koanf:"delete_timeout"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	MaxTokens int      `koanf:"max_tokens"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Subject    string `koanf:"subject"` // NATS subject prefix, e.g. "orchestrator.jobs"
	EmbeddedFS string `koanf:"embedded_store_dir"`
}

// MemoryConfig holds remediation memory configuration.
type MemoryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	PersistPath string `koanf:"persist_path"`
	Collection  string `koanf:"collection"`
	TopK        int    `koanf:"top_k"`

	// Backend selects the embedding provider: "fastembed" (local ONNX
	// model, no network) or "langchaingo" (OpenAI-compatible HTTP API,
	// also usable against a self-hosted TEI server).
	Backend          string `koanf:"backend"`
	EmbeddingModel   string `koanf:"embedding_model"`
	EmbeddingBaseURL string `koanf:"embedding_base_url"` // langchaingo backend only
	EmbeddingAPIKey  Secret `koanf:"embedding_api_key"`  // langchaingo backend only
}

// RepoEnrichConfig holds repository enrichment configuration.
type RepoEnrichConfig struct {
	GitHubToken Secret   `koanf:"github_token"` // optional, enables fetch_issue skill
	Timeout     Duration `koanf:"timeout"`
}

// Load returns the built-in defaults for every configuration section.
// LoadWithFile layers a YAML file and environment variables on top.
func Load() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr:      ":9090",
			ShutdownTimeout: Duration(10_000_000_000), // 10s
		},
		Store: StoreConfig{
			Path: "orchestrator.db",
		},
		Scheduler: SchedulerConfig{
			ClaimTick:      Duration(2_000_000_000),   // 2s
			ReclaimTick:    Duration(60_000_000_000),  // 60s
			WorkerPoolSize: 4,
			StallCutoff:    Duration(300_000_000_000), // 5m
		},
		Step: StepConfig{
			MaxAttempts: 3,
		},
		AgentLoop: AgentLoopConfig{
			MaxTurns:                  20,
			HeartbeatEvery:            3,
			MaxObservationChars:       8_000,
			HistoryResumeTokenCeiling: 150_000,
			RateLimitBackoff:          Duration(60_000_000_000), // 60s
		},
		Workspace: WorkspaceConfig{
			BaseURL:        "http://localhost:8081",
			RequestTimeout: Duration(120_000_000_000), // 120s
			DeleteTimeout:  Duration(30_000_000_000),  // 30s
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-6",
			Timeout:   Duration(300_000_000_000), // 300s, mirrors the 300s run_code budget
			MaxTokens: 4096,
		},
		Events: EventsConfig{
			Enabled: true,
			Subject: "orchestrator.jobs",
		},
		Memory: MemoryConfig{
			Enabled:        true,
			PersistPath:    "",
			Collection:     "remediations",
			TopK:           3,
			Backend:        "fastembed",
			EmbeddingModel: "BAAI/bge-small-en-v1.5",
		},
		RepoEnrich: RepoEnrichConfig{
			Timeout: Duration(10_000_000_000), // 10s
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr must not be empty")
	}
	if c.HTTP.ShutdownTimeout.Duration() <= 0 {
		return errors.New("http.shutdown_timeout must be positive")
	}
	if c.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if c.Scheduler.ClaimTick.Duration() <= 0 {
		return errors.New("scheduler.claim_tick must be positive")
	}
	if c.Scheduler.ReclaimTick.Duration() <= 0 {
		return errors.New("scheduler.reclaim_tick must be positive")
	}
	if c.Scheduler.WorkerPoolSize < 1 {
		return fmt.Errorf("scheduler.worker_pool_size must be at least 1, got %d", c.Scheduler.WorkerPoolSize)
	}
	if c.Scheduler.StallCutoff.Duration() <= 0 {
		return errors.New("scheduler.stall_cutoff must be positive")
	}
	if c.Step.MaxAttempts < 1 {
		return fmt.Errorf("step.max_attempts must be at least 1, got %d", c.Step.MaxAttempts)
	}
	if c.AgentLoop.MaxTurns < 1 {
		return fmt.Errorf("agent_loop.max_turns must be at least 1, got %d", c.AgentLoop.MaxTurns)
	}
	if c.AgentLoop.HeartbeatEvery < 1 {
		return fmt.Errorf("agent_loop.heartbeat_every must be at least 1, got %d", c.AgentLoop.HeartbeatEvery)
	}
	if c.AgentLoop.MaxObservationChars < 1 {
		return errors.New("agent_loop.max_observation_chars must be positive")
	}
	if c.AgentLoop.HistoryResumeTokenCeiling < 1 {
		return errors.New("agent_loop.history_resume_token_ceiling must be positive")
	}
	if c.Workspace.BaseURL == "" {
		return errors.New("workspace.base_url must not be empty")
	}
	if c.Workspace.RequestTimeout.Duration() <= 0 {
		return errors.New("workspace.request_timeout must be positive")
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must not be empty")
	}
	if c.LLM.Timeout.Duration() <= 0 {
		return errors.New("llm.timeout must be positive")
	}
	if c.Memory.Enabled && c.Memory.EmbeddingModel == "" {
		return errors.New("memory.embedding_model required when memory is enabled")
	}
	if c.Memory.Enabled && c.Memory.Backend != "fastembed" && c.Memory.Backend != "langchaingo" {
		return fmt.Errorf("memory.backend must be \"fastembed\" or \"langchaingo\", got %q", c.Memory.Backend)
	}
	if c.Memory.Enabled && c.Memory.Backend == "langchaingo" && c.Memory.EmbeddingBaseURL == "" {
		return errors.New("memory.embedding_base_url required when memory.backend is \"langchaingo\"")
	}
	return nil
}
