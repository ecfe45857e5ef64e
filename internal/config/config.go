// Package config handles bluejay configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/bluejay/config.yaml, /config/config.yaml,
// /etc/bluejay/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bluejay", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/bluejay/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

// Config holds all bluejay configuration.
type Config struct {
	Transport    TransportConfig    `yaml:"transport"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Batch        BatchConfig        `yaml:"batch"`
	Gating       GatingConfig       `yaml:"gating"`
	Email        EmailConfig        `yaml:"email"`
	Contacts     ContactsConfig     `yaml:"contacts"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
}

// TransportConfig defines the chat server connection.
type TransportConfig struct {
	// URL is the chat server base URL (e.g. "http://localhost:1234").
	// The socket endpoint is derived from it.
	URL string `yaml:"url"`
	// Password authenticates both the socket and REST requests.
	Password string `yaml:"password"`
}

// LLMConfig defines the LLM provider settings.
type LLMConfig struct {
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	ResponseMaxTokens int    `yaml:"response_max_tokens"`
	EnableWebSearch   bool   `yaml:"enable_web_search"`
	WebSearchMaxUses  int    `yaml:"web_search_max_uses"`
}

// OrchestratorConfig bounds the interaction and worker loops.
type OrchestratorConfig struct {
	// MaxToolIterations caps LLM calls per loop. Applies to both the
	// interaction orchestrator and each worker runtime.
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

// BatchConfig controls delegated worker execution.
type BatchConfig struct {
	TimeoutSeconds      int `yaml:"timeout_seconds"`
	MaxEntriesPerWorker int `yaml:"max_entries_per_worker"`
}

// GatingConfig controls inbound message suppression.
type GatingConfig struct {
	EchoTTLSeconds    int `yaml:"echo_ttl_seconds"`
	RateWindowSeconds int `yaml:"rate_window_seconds"`
	RateMax           int `yaml:"rate_max"`
	HistoryKeep       int `yaml:"history_keep"`
}

// EmailConfig defines the optional IMAP intake account.
type EmailConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"` // host:port
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Mailbox         string `yaml:"mailbox"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	// NotifyChat is the chat id that receives email-driven agent
	// triggers.
	NotifyChat string `yaml:"notify_chat"`
}

// ContactsConfig points at a local vCard address book.
type ContactsConfig struct {
	VCardPath string `yaml:"vcard_path"`
}

// Configured reports whether the transport has a server URL.
func (c TransportConfig) Configured() bool {
	return c.URL != ""
}

// Configured reports whether an email account is fully specified.
func (c EmailConfig) Configured() bool {
	return c.Enabled && c.Host != "" && c.Username != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${ANTHROPIC_API_KEY}).
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-sonnet-4-20250514"
	}
	if c.LLM.ResponseMaxTokens == 0 {
		c.LLM.ResponseMaxTokens = 4096
	}
	if c.LLM.WebSearchMaxUses == 0 {
		c.LLM.WebSearchMaxUses = 3
	}
	if c.Orchestrator.MaxToolIterations == 0 {
		c.Orchestrator.MaxToolIterations = 8
	}
	if c.Batch.TimeoutSeconds == 0 {
		c.Batch.TimeoutSeconds = 90
	}
	if c.Batch.MaxEntriesPerWorker == 0 {
		c.Batch.MaxEntriesPerWorker = 100
	}
	if c.Gating.EchoTTLSeconds == 0 {
		c.Gating.EchoTTLSeconds = 10
	}
	if c.Gating.RateWindowSeconds == 0 {
		c.Gating.RateWindowSeconds = 60
	}
	if c.Gating.RateMax == 0 {
		c.Gating.RateMax = 8
	}
	if c.Gating.HistoryKeep == 0 {
		c.Gating.HistoryKeep = 20
	}
	if c.Email.Mailbox == "" {
		c.Email.Mailbox = "INBOX"
	}
	if c.Email.PollIntervalSec == 0 {
		c.Email.PollIntervalSec = 300
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.Orchestrator.MaxToolIterations < 1 {
		return fmt.Errorf("orchestrator.max_tool_iterations must be >= 1")
	}
	if c.Batch.TimeoutSeconds < 1 {
		return fmt.Errorf("batch.timeout_seconds must be >= 1")
	}
	if c.Email.Enabled && (c.Email.Host == "" || c.Email.Username == "") {
		return fmt.Errorf("email.host and email.username are required when email.enabled")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}
