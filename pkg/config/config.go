// Package config defines the YAML configuration surface of the Nuzantara
// core and its loading pipeline: .env loading, ${ENV} expansion, defaults
// and validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Server        ServerConfig                  `yaml:"server"`
	Auth          AuthConfig                    `yaml:"auth"`
	Collections   map[string]*CollectionConfig  `yaml:"collections"`
	Router        RouterConfig                  `yaml:"router"`
	Orchestrator  OrchestratorConfig            `yaml:"orchestrator"`
	LLM           LLMConfig                     `yaml:"llm"`
	Embedder      EmbedderConfig                `yaml:"embedder"`
	VectorStore   VectorStoreConfig             `yaml:"vector_store"`
	Retrieval     RetrievalConfig               `yaml:"retrieval"`
	Memory        MemoryConfig                  `yaml:"memory"`
	Database      DatabaseConfig                `yaml:"database"`
	PII           PIIConfig                     `yaml:"pii"`
	Limits        LimitsConfig                  `yaml:"limits"`
	Tools         map[string]*ToolConfig        `yaml:"tools"`
	Observability ObservabilityConfig           `yaml:"observability"`
}

// Load reads, expands and validates a configuration file.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := expandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no
// collections. Useful for tests and zero-config startup.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults recursively.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Router.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Memory.SetDefaults()
	c.Database.SetDefaults()
	c.PII.SetDefaults()
	c.Limits.SetDefaults()
	c.Observability.SetDefaults()

	for name, col := range c.Collections {
		if col != nil {
			col.SetDefaults(name)
		}
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Router.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.VectorStore.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.PII.Validate(); err != nil {
		return err
	}

	for name, col := range c.Collections {
		if col == nil {
			return fmt.Errorf("collection %q: empty configuration", name)
		}
		if err := col.Validate(); err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
	}

	return nil
}
