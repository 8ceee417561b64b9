// Package config loads the YAML configuration this module's CLI driver
// needs: session defaults (loop bounds, refiner budget/trim), LLM
// provider selection, and tool provider wiring. It is a trimmed
// descendant of the teacher's config package — the same
// read-file/expand-env/yaml-decode shape (see loader.go), narrowed to
// this module's scope. Everything the teacher's config covered that
// this module has no component for (gateway routing, channels,
// marketplace, vector memory, RAG, cron, transcription, ...) is out of
// scope and was dropped; see DESIGN.md.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Session SessionConfig `yaml:"session"`
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// SessionConfig tunes the Agent Loop and Refiner for every session run
// by this process. There is no per-session override mechanism (spec:
// no cross-session scheduling) — one process runs one configuration.
type SessionConfig struct {
	// System is the system prompt sent with every completion request.
	System string `yaml:"system"`

	// MaxToolLoop bounds the tool-call round trips per Ask call before
	// LoopExhausted. Zero means internal/agentloop's default (10).
	MaxToolLoop int `yaml:"max_tool_loop"`

	// MaxTokens is the provider's max output tokens per completion.
	MaxTokens int `yaml:"max_tokens"`

	// BudgetTokens is the Refiner's admitted-view token ceiling.
	BudgetTokens int `yaml:"budget_tokens"`

	// TrimCap is the Refiner's per-tool-response character cap before
	// content is handed to the Temporal Store. Zero disables trimming.
	TrimCap int `yaml:"trim_cap"`
}

// LoggingConfig mirrors internal/observability.LogConfig.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) applyDefaults() {
	if c.Session.MaxTokens <= 0 {
		c.Session.MaxTokens = 4096
	}
	if c.Session.BudgetTokens <= 0 {
		c.Session.BudgetTokens = 8000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	for i, cp := range c.Tools.ChildProcesses {
		if cp.Timeout <= 0 {
			cp.Timeout = 120 * time.Second
			c.Tools.ChildProcesses[i] = cp
		}
	}
}
