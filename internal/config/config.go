// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Site       SiteConfig       `mapstructure:"site"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Store      StoreConfig      `mapstructure:"store"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	RequestTimeoutSec  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig points at the tracker site being harvested.
type SiteConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HarvestConfig governs the run loop's pace and scope.
type HarvestConfig struct {
	DelayMs     int `mapstructure:"delay_ms"`
	MaxProjects int `mapstructure:"max_projects"`
}

// StoreConfig controls the sqlite database.
type StoreConfig struct {
	Path          string `mapstructure:"path"`
	SaveRetries   int    `mapstructure:"save_retries"`
	SaveBackoffMs int    `mapstructure:"save_backoff_ms"`
}

// ClassifierConfig selects the scoring strategy.
type ClassifierConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("site.base_url", "https://www.apps2.dgs.ca.gov/dsa/tracker/")
	v.SetDefault("site.user_agent", "dsa-harvester/0.1")
	v.SetDefault("site.timeout_seconds", 15)
	v.SetDefault("harvest.delay_ms", 500)
	v.SetDefault("harvest.max_projects", 0)
	v.SetDefault("store.path", "dgs_projects.db")
	v.SetDefault("store.save_retries", 3)
	v.SetDefault("store.save_backoff_ms", 100)
	v.SetDefault("classifier.strategy", "weighted")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Site.TimeoutSeconds <= 0 {
		return fmt.Errorf("site.timeout_seconds must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// SiteTimeout converts the site timeout config into a duration.
func (c Config) SiteTimeout() time.Duration {
	return time.Duration(c.Site.TimeoutSeconds) * time.Second
}

// HarvestDelay converts the politeness delay config into a duration.
func (c Config) HarvestDelay() time.Duration {
	return time.Duration(c.Harvest.DelayMs) * time.Millisecond
}

// SaveBackoff converts the store backoff config into a duration.
func (c Config) SaveBackoff() time.Duration {
	return time.Duration(c.Store.SaveBackoffMs) * time.Millisecond
}

// RequestTimeout converts the server request timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// ShutdownTimeout converts the server shutdown allowance into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
