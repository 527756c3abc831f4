// Package config handles Code Review Helper configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/reviewhelper/config.yaml, /etc/reviewhelper/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reviewhelper", "config.yaml"))
	}

	paths = append(paths, "/etc/reviewhelper/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	LLM       LLMConfig      `yaml:"llm"`
	Storage   StorageConfig  `yaml:"storage"`
	Search    SearchConfig   `yaml:"search"`
	Agent     AgentConfig    `yaml:"agent"`
	Analyzer  AnalyzerConfig `yaml:"analyzer"`
	Health    HealthConfig   `yaml:"health"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // "" = all interfaces
	Port    int    `yaml:"port"`
}

// LLMConfig selects and tunes the model used by the orchestrator.
type LLMConfig struct {
	Default     string        `yaml:"default"`
	OllamaURL   string        `yaml:"ollama_url"`
	Anthropic   AnthropicKey  `yaml:"anthropic"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Models      []ModelConfig `yaml:"models"`

	// Pricing maps model names to per-million-token prices in USD.
	// Models not listed are recorded at zero cost.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the USD price of one million tokens.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// AnthropicKey holds Anthropic API credentials.
type AnthropicKey struct {
	APIKey string `yaml:"api_key"`
}

// ModelConfig maps a model name to the provider serving it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic
}

// StorageConfig points the file gateway at an object store.
type StorageConfig struct {
	// BaseURL is the afs URL all locations are relative to, e.g.
	// file:///var/lib/reviewhelper/objects, s3://bucket/prefix, mem://localhost/objects.
	BaseURL string `yaml:"base_url"`
	// LinkSecret signs temporary download links.
	LinkSecret string `yaml:"link_secret"`
	// PublicURL is the externally reachable address of this server,
	// used as the prefix of download links.
	PublicURL string `yaml:"public_url"`
}

// SearchConfig configures the content search backend. Search tools are
// only registered when URL is set.
type SearchConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a search backend URL is set.
func (c SearchConfig) Configured() bool { return c.URL != "" }

// AgentConfig bounds the tool-calling loop.
type AgentConfig struct {
	MaxRounds         int           `yaml:"max_rounds"`
	HistoryWindow     int           `yaml:"history_window"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ReadMaxBytes      int64         `yaml:"read_max_bytes"`
}

// AnalyzerConfig tunes the single-shot document analyzer.
type AnalyzerConfig struct {
	MaxSnippets int `yaml:"max_snippets"`
}

// HealthConfig tunes the background probes of the LLM backend and file
// storage reported by /health.
type HealthConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Load reads configuration from a YAML file. Environment variables of
// the form ${NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every tunable at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.Default == "" {
		c.LLM.Default = "claude-sonnet-4-20250514"
	}
	if c.LLM.OllamaURL == "" {
		c.LLM.OllamaURL = "http://localhost:11434"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Agent.MaxRounds <= 0 {
		c.Agent.MaxRounds = 12
	}
	if c.Agent.HistoryWindow <= 0 {
		c.Agent.HistoryWindow = 5
	}
	if c.Agent.KeepaliveInterval <= 0 {
		c.Agent.KeepaliveInterval = 15 * time.Second
	}
	if c.Agent.RequestTimeout <= 0 {
		c.Agent.RequestTimeout = 5 * time.Minute
	}
	if c.Agent.ReadMaxBytes <= 0 {
		c.Agent.ReadMaxBytes = 512 * 1024
	}
	if c.Analyzer.MaxSnippets <= 0 {
		c.Analyzer.MaxSnippets = 8
	}
	if c.Health.PollInterval <= 0 {
		c.Health.PollInterval = time.Minute
	}
	if c.Health.ProbeTimeout <= 0 {
		c.Health.ProbeTimeout = 10 * time.Second
	}
	if c.Storage.BaseURL == "" && c.DataDir != "" {
		abs, err := filepath.Abs(filepath.Join(c.DataDir, "objects"))
		if err == nil {
			c.Storage.BaseURL = "file://" + abs
		}
	}
}

// Validate reports missing required settings. The returned error lists
// every problem, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Default == "" {
		errs = append(errs, errors.New("llm.default: no model configured"))
	}
	if c.ProviderFor(c.LLM.Default) == "anthropic" && c.LLM.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("llm.anthropic.api_key: required for anthropic models"))
	}
	if c.Storage.BaseURL == "" {
		errs = append(errs, errors.New("storage.base_url: required"))
	}
	if c.Storage.LinkSecret == "" {
		errs = append(errs, errors.New("storage.link_secret: required to sign download links"))
	}
	return errors.Join(errs...)
}

// ProviderFor returns the provider configured for a model name, falling
// back to a guess from the name itself.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.LLM.Models {
		if m.Name == model {
			return m.Provider
		}
	}
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "ollama"
}
