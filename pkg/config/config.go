package config

import (
	"os"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	// Store configuration
	Store StoreConfig `yaml:"store" validate:"required"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm,omitempty" validate:"omitempty"`

	// Orchestrator configuration
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty" validate:"omitempty"`

	// Offline adaptation configuration
	Offline OfflineConfig `yaml:"offline,omitempty" validate:"omitempty"`

	// Online adaptation configuration
	Online OnlineConfig `yaml:"online,omitempty" validate:"omitempty"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging,omitempty" validate:"omitempty"`
}

// StoreConfig holds playbook storage settings.
type StoreConfig struct {
	// Path to the SQLite database file, or ":memory:"
	Path string `yaml:"path" validate:"required"`
}

// LLMConfig holds configuration for the language model backing the
// generator and reflector roles.
type LLMConfig struct {
	// Provider name (anthropic)
	Provider string `yaml:"provider" validate:"omitempty,oneof=anthropic"`

	// Model ID (e.g., claude-sonnet-4-5)
	ModelID string `yaml:"model_id,omitempty"`

	// API key; falls back to the provider's environment variable
	APIKey string `yaml:"api_key,omitempty"`

	// Generation parameters
	MaxTokens   int     `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
	Temperature float64 `yaml:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
}

// OrchestratorConfig holds live-traffic injection settings.
type OrchestratorConfig struct {
	// Maximum strategies injected into a context block
	MaxStrategies int `yaml:"max_strategies,omitempty" validate:"omitempty,min=1"`

	// Actor recorded on feedback revisions
	AppliedBy string `yaml:"applied_by,omitempty"`
}

// OfflineConfig holds batch adaptation settings.
type OfflineConfig struct {
	BatchSize       int     `yaml:"batch_size,omitempty" validate:"omitempty,min=1"`
	Epochs          int     `yaml:"epochs,omitempty" validate:"omitempty,min=1"`
	MaxConcurrent   int     `yaml:"max_concurrent,omitempty" validate:"omitempty,min=1"`
	ValidationSplit float64 `yaml:"validation_split,omitempty" validate:"omitempty,min=0,max=0.9"`
	CheckpointPath  string  `yaml:"checkpoint_path,omitempty"`
	MaxStrategies   int     `yaml:"max_strategies,omitempty" validate:"omitempty,min=1"`
}

// OnlineConfig holds per-event adaptation settings.
type OnlineConfig struct {
	MaxStrategies int `yaml:"max_strategies,omitempty" validate:"omitempty,min=1"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: DEBUG, INFO, WARN, ERROR
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`

	// Optional log file path in addition to console output
	File string `yaml:"file,omitempty"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "playbook.db"},
		LLM: LLMConfig{
			Provider:    "anthropic",
			ModelID:     "claude-sonnet-4-5",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		Orchestrator: OrchestratorConfig{MaxStrategies: 5, AppliedBy: "orchestrator"},
		Offline: OfflineConfig{
			BatchSize:     8,
			Epochs:        1,
			MaxConcurrent: 4,
			MaxStrategies: 10,
		},
		Online:  OnlineConfig{MaxStrategies: 10},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// Load reads and validates a YAML configuration file, layering it over
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path})
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates YAML configuration, layering it
// over defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to parse config")
	}
	cfg.applyEnv()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills secrets from the environment when the file leaves
// them out.
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}
