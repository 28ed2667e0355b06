package config

import "testing"

func TestValidate_RejectsBadHTTP(t *testing.T) {
	cfg := Load()
	cfg.HTTP.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty listen_addr")
	}
}

func TestValidate_RejectsZeroWorkerPool(t *testing.T) {
	cfg := Load()
	cfg.Scheduler.WorkerPoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for worker_pool_size=0")
	}
}

func TestValidate_RejectsZeroMaxAttempts(t *testing.T) {
	cfg := Load()
	cfg.Step.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max_attempts=0")
	}
}

func TestValidate_RejectsZeroMaxTurns(t *testing.T) {
	cfg := Load()
	cfg.AgentLoop.MaxTurns = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max_turns=0")
	}
}

func TestValidate_RejectsEmptyWorkspaceBaseURL(t *testing.T) {
	cfg := Load()
	cfg.Workspace.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty workspace.base_url")
	}
}

func TestValidate_RejectsEmptyLLMModel(t *testing.T) {
	cfg := Load()
	cfg.LLM.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty llm.model")
	}
}

func TestValidate_RejectsMemoryEnabledWithoutModel(t *testing.T) {
	cfg := Load()
	cfg.Memory.Enabled = true
	cfg.Memory.EmbeddingModel = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for memory enabled without embedding_model")
	}
}

func TestValidate_AllowsDefaults(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate cleanly: %v", err)
	}
}
