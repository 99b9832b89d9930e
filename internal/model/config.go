package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	// Backend is "json" (default) or "sqlite".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Path is the mailbox file (json) or database file (sqlite).
	Path string `mapstructure:"path" yaml:"path"`

	// TemplatesPath is the prompt library file used with the json backend.
	TemplatesPath string `mapstructure:"templates_path" yaml:"templates_path"`
}

// GatewayConfig holds settings for the completion service.
type GatewayConfig struct {
	// Provider is "claude" or "gemini".
	Provider      string `mapstructure:"provider" yaml:"provider"`
	Model         string `mapstructure:"model" yaml:"model"`
	MaxTokens     int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	TimeoutSec    int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	MinIntervalMs int    `mapstructure:"min_interval_ms" yaml:"min_interval_ms"`
}

// Timeout returns the per-call timeout.
func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MinInterval returns the minimum spacing between two gateway calls.
func (c GatewayConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// PipelineConfig tunes the enrichment worker pool and retry policy.
type PipelineConfig struct {
	Workers        int  `mapstructure:"workers" yaml:"workers"`
	MaxAttempts    int  `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoffMs  int  `mapstructure:"base_backoff_ms" yaml:"base_backoff_ms"`
	MaxBackoffMs   int  `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	CleanDrafts    bool `mapstructure:"clean_drafts" yaml:"clean_drafts"`
	ProcessOnStart bool `mapstructure:"process_on_start" yaml:"process_on_start"`
}

// ChatConfig tunes draft refinement conversations.
type ChatConfig struct {
	// HistoryWindow is the number of most recent turns included in a prompt.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
}

// MailboxConfig describes the optional IMAP account to poll.
type MailboxConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	Folder          string `mapstructure:"folder" yaml:"folder"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	LookbackDays    int    `mapstructure:"lookback_days" yaml:"lookback_days"`
	FetchLimit      int    `mapstructure:"fetch_limit" yaml:"fetch_limit"`
}

// LogConfig controls the application logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// ConfigDir returns ~/.config/mailtriage, or the working directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailtriage")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailtriage/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dir := ConfigDir()

	v.SetDefault("store.backend", "json")
	v.SetDefault("store.path", filepath.Join(dir, "mail_inbox.json"))
	v.SetDefault("store.templates_path", filepath.Join(dir, "prompt_library.json"))

	v.SetDefault("gateway.provider", "gemini")
	v.SetDefault("gateway.model", "")
	v.SetDefault("gateway.max_tokens", 1024)
	v.SetDefault("gateway.timeout_sec", 30)
	v.SetDefault("gateway.min_interval_ms", 500)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.base_backoff_ms", 1000)
	v.SetDefault("pipeline.max_backoff_ms", 30000)
	v.SetDefault("pipeline.clean_drafts", false)
	v.SetDefault("pipeline.process_on_start", true)

	v.SetDefault("chat.history_window", 20)

	v.SetDefault("mailbox.enabled", false)
	v.SetDefault("mailbox.port", "993")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.poll_interval_sec", 120)
	v.SetDefault("mailbox.lookback_days", 7)
	v.SetDefault("mailbox.fetch_limit", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", filepath.Join(dir, "mailtriage.log"))

	v.SetDefault("metrics.listen_addr", "")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	v := viper.New()
	setDefaults(v)

	cfg := &AppConfig{}
	// Defaults only contain plain scalars, so decoding cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return DefaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings the application cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Store.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Gateway.Provider {
	case "claude", "gemini":
	default:
		return fmt.Errorf("unknown gateway provider %q", c.Gateway.Provider)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Chat.HistoryWindow < 1 {
		return fmt.Errorf("chat.history_window must be at least 1, got %d", c.Chat.HistoryWindow)
	}
	if c.Mailbox.Enabled && (c.Mailbox.Host == "" || c.Mailbox.Username == "") {
		return fmt.Errorf("mailbox is enabled but host or username is empty")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("store", cfg.Store)
	v.Set("gateway", cfg.Gateway)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("chat", cfg.Chat)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
