// Package config loads and validates the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "config.yaml"
	DefaultStoragePath     = ".newsdeck/newsdeck.db"
	DefaultWindowDays      = 1
	DefaultListingLimit    = 10
	DefaultArticleMaxChars = 3000
	DefaultDigestTick      = time.Minute
	DefaultDigestTolerance = 5 * time.Minute
	DefaultLogLevel        = "info"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Sources   SourcesConfig   `yaml:"sources"`
	Storage   StorageConfig   `yaml:"storage"`
	Listing   ListingConfig   `yaml:"listing"`
	Digest    DigestConfig    `yaml:"digest"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

type SourcesConfig struct {
	Channels []string `yaml:"channels"`
	Feeds    []string `yaml:"feeds"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type ListingConfig struct {
	WindowDays      int `yaml:"window_days"`
	Limit           int `yaml:"limit"`
	ArticleMaxChars int `yaml:"article_max_chars"`
}

type DigestConfig struct {
	Tick      Duration `yaml:"tick"`
	Tolerance Duration `yaml:"tolerance"`
}

type TransportConfig struct {
	TokenEnv string `yaml:"token_env"`

	// Resolved from the env var at load time. Empty means dry-run: all
	// deliveries go to the log transport.
	Token string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars,
// and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Listing.WindowDays == 0 {
		cfg.Listing.WindowDays = DefaultWindowDays
	}
	if cfg.Listing.Limit == 0 {
		cfg.Listing.Limit = DefaultListingLimit
	}
	if cfg.Listing.ArticleMaxChars == 0 {
		cfg.Listing.ArticleMaxChars = DefaultArticleMaxChars
	}
	if cfg.Digest.Tick.Duration == 0 {
		cfg.Digest.Tick.Duration = DefaultDigestTick
	}
	if cfg.Digest.Tolerance.Duration == 0 {
		cfg.Digest.Tolerance.Duration = DefaultDigestTolerance
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Transport.TokenEnv != "" {
		cfg.Transport.Token = os.Getenv(cfg.Transport.TokenEnv)
	}
}

func validate(cfg *Config) error {
	// Config-level sources are only a fallback for users without
	// subscriptions, so an empty list is fine here. Commands that need
	// sources report the missing-sources case per user.
	if cfg.Listing.WindowDays < 1 {
		return fmt.Errorf("listing.window_days: must be at least 1, got %d", cfg.Listing.WindowDays)
	}
	if cfg.Listing.Limit < 1 {
		return fmt.Errorf("listing.limit: must be at least 1, got %d", cfg.Listing.Limit)
	}
	if cfg.Listing.ArticleMaxChars < 100 {
		return fmt.Errorf("listing.article_max_chars: must be at least 100, got %d", cfg.Listing.ArticleMaxChars)
	}
	if cfg.Digest.Tick.Duration < time.Second {
		return fmt.Errorf("digest.tick: must be at least 1s, got %s", cfg.Digest.Tick.Duration)
	}
	if cfg.Digest.Tolerance.Duration < 0 {
		return fmt.Errorf("digest.tolerance: must not be negative, got %s", cfg.Digest.Tolerance.Duration)
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
