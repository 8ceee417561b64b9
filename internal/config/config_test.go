package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
session:
  system: "you are a helpful agent"
llm:
  default_provider: openai
  providers:
    openai:
      api_key_env: OPENAI_API_KEY
      default_model: gpt-4o
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.MaxTokens != 4096 {
		t.Fatalf("MaxTokens = %d, want default 4096", cfg.Session.MaxTokens)
	}
	if cfg.Session.BudgetTokens != 8000 {
		t.Fatalf("BudgetTokens = %d, want default 8000", cfg.Session.BudgetTokens)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("Logging defaults = %+v", cfg.Logging)
	}
	if cfg.LLM.Providers["openai"].DefaultModel != "gpt-4o" {
		t.Fatalf("provider not decoded: %+v", cfg.LLM.Providers)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("AGENT_SYSTEM_PROMPT", "be terse")
	path := writeTempConfig(t, `
session:
  system: "${AGENT_SYSTEM_PROMPT}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.System != "be terse" {
		t.Fatalf("System = %q, want env-expanded value", cfg.Session.System)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "session:\n  not_a_real_field: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load should reject unknown fields")
	}
}

func TestLoadChildProcessTimeoutDefault(t *testing.T) {
	path := writeTempConfig(t, `
tools:
  child_processes:
    - id: py-tools
      command: python3
      args: ["-m", "tools_server"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Tools.ChildProcesses[0].Timeout; got.Seconds() != 120 {
		t.Fatalf("Timeout = %v, want 120s default", got)
	}
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
