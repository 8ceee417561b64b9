package config

// LLMConfig selects which LLM provider backs the Agent Loop and holds
// per-provider credentials/model defaults. internal/agentloop/providers
// has one concrete implementation per key here (openai, anthropic,
// google, bedrock).
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one provider entry. APIKeyEnv names an
// environment variable to read the key from (never stored in the
// config file itself); Bedrock ignores APIKeyEnv and uses Region with
// the ambient AWS credential chain instead.
type LLMProviderConfig struct {
	APIKeyEnv    string `yaml:"api_key_env"`
	DefaultModel string `yaml:"default_model"`
	Region       string `yaml:"region"`
	MaxTokens    int    `yaml:"max_tokens"`
}
