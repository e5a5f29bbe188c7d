// Package config loads runtime settings from xployt.yaml and XPLOYT_* env vars.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the scan service. Defaults work out of the
// box; a config file or environment variables override them.
type Config struct {
	// OutputRoot is the parent directory for per-repo data directories.
	OutputRoot string `mapstructure:"output_root"`
	// Model and FastModel select which Anthropic models stages use.
	Model     string `mapstructure:"model"`
	FastModel string `mapstructure:"fast_model"`
	// MetadataMaxFiles caps how many shortlisted files the metadata stage
	// processes (0 = no cap). Useful for cost control while testing.
	MetadataMaxFiles int `mapstructure:"metadata_max_files"`
	// SelectFilesLimit caps how many paths are sent to the shortlist prompt.
	SelectFilesLimit int `mapstructure:"select_files_limit"`
	// HeartbeatInterval is the orchestrator's progress tick.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// FuzzyThreshold and FuzzyMaxWindow tune snippet-to-line resolution.
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
	FuzzyMaxWindow int     `mapstructure:"fuzzy_max_window"`
	// ListenAddr is the HTTP server bind address.
	ListenAddr string `mapstructure:"listen_addr"`
	// DatabasePath is the sqlite run-history database.
	DatabasePath string `mapstructure:"database_path"`
}

// Load reads xployt.yaml (current directory, optional) and the environment.
// Env vars use the XPLOYT_ prefix: XPLOYT_OUTPUT_ROOT, XPLOYT_MODEL, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("output_root", "output")
	v.SetDefault("model", "")
	v.SetDefault("fast_model", "")
	v.SetDefault("metadata_max_files", 0)
	v.SetDefault("select_files_limit", 30)
	v.SetDefault("heartbeat_interval", time.Second)
	v.SetDefault("fuzzy_threshold", 0.6)
	v.SetDefault("fuzzy_max_window", 7)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_path", "xployt.db")

	v.SetConfigName("xployt")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("XPLOYT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// APIKey returns the Anthropic credential. Kept out of the config file on
// purpose; the environment is the only source.
func (c *Config) APIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}
