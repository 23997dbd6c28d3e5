// Package config provides configuration structures and loading logic for alarmgate.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration structure for the alarmgate service.
type Config struct {
	Listener ListenerConfig `mapstructure:"listener"`
	Paging   PagingConfig   `mapstructure:"paging"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Store    StoreConfig    `mapstructure:"store"`
}

// ListenerConfig defines the TCP ingest endpoint the recorders push to.
type ListenerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	IdleTimeout     string `mapstructure:"idle_timeout"`
	MaxMessageBytes int    `mapstructure:"max_message_bytes"`
}

// PagingConfig defines the PagerDuty escalation settings: credentials,
// routing, the alarm-type allowlist and the daily paging window.
type PagingConfig struct {
	APIURL      string `mapstructure:"api_url"`
	TokenEnv    string `mapstructure:"token_env"`
	Token       string `mapstructure:"-"`
	ServiceID   string `mapstructure:"service_id"`
	FromEmail   string `mapstructure:"from_email"`
	Urgency     string `mapstructure:"urgency"`
	Timeout     string `mapstructure:"timeout"`
	AlertTypes  string `mapstructure:"alert_types"`
	WindowStart string `mapstructure:"window_start"`
	WindowEnd   string `mapstructure:"window_end"`
	Zone        string `mapstructure:"zone"`
}

// AdminConfig defines the HTTP endpoint serving health, metrics and the
// recent-alarm view.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// StoreConfig defines the SQLite alarm audit store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// GetIdleTimeout returns the per-connection idle read timeout as a time.Duration.
func (c *ListenerConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetTimeoutDuration returns the outbound paging call timeout as a time.Duration.
func (c *PagingConfig) GetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// AlertTypeList splits the comma-separated allowlist into its entries.
func (c *PagingConfig) AlertTypeList() []string {
	return strings.Split(c.AlertTypes, ",")
}

// Load loads configuration from config.yaml or environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/alarmgate")

	// Allow environment variables to override config
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	viper.SetDefault("listener.host", "0.0.0.0")
	viper.SetDefault("listener.port", 6033)
	viper.SetDefault("listener.idle_timeout", "30s")
	viper.SetDefault("listener.max_message_bytes", 1<<20)
	viper.SetDefault("paging.token_env", "PAGERDUTY_API_TOKEN")
	viper.SetDefault("paging.urgency", "high")
	viper.SetDefault("paging.timeout", "10s")
	viper.SetDefault("paging.window_start", "00:00")
	viper.SetDefault("paging.window_end", "23:59")
	viper.SetDefault("paging.zone", "Asia/Jerusalem")
	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.host", "0.0.0.0")
	viper.SetDefault("admin.port", 8080)
	viper.SetDefault("store.enabled", true)
	viper.SetDefault("store.path", "data/alarmgate.db")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Get the API token from the environment if token_env is set
	if cfg.Paging.TokenEnv != "" {
		cfg.Paging.Token = os.Getenv(cfg.Paging.TokenEnv)
	}

	return &cfg, nil
}
