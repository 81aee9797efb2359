// Package config loads psub configuration from defaults, an optional YAML
// file, PSUB_* environment variables and runtime overrides, in increasing
// order of precedence.
package config

import (
	"path/filepath"
	"time"

	"github.com/3leaps/psub/pkg/job"
)

// Config is the full application configuration.
type Config struct {
	Paths     PathsConfig   `mapstructure:"paths"`
	Resources job.Resources `mapstructure:"resources"`
	Remote    RemoteConfig  `mapstructure:"remote"`
	Ledger    LedgerConfig  `mapstructure:"ledger"`
	Runner    RunnerConfig  `mapstructure:"runner"`
	History   HistoryConfig `mapstructure:"history"`
	Status    StatusConfig  `mapstructure:"status"`
	Logging   LoggingConfig `mapstructure:"logging"`
	Server    ServerConfig  `mapstructure:"server"`
}

// PathsConfig holds the storage roots.
type PathsConfig struct {
	// Root holds logs, history and the config file. Defaults to ~/.psub.
	Root string `mapstructure:"root"`
	// Scratch holds per-job tmp directories. Defaults to <root>/tmp.
	Scratch string `mapstructure:"scratch"`
}

// RemoteConfig enables relaying submissions to a login node over ssh.
type RemoteConfig struct {
	Host       string   `mapstructure:"host"`
	SSHBinary  string   `mapstructure:"ssh_binary"`
	SSHOptions []string `mapstructure:"ssh_options"`
}

// Enabled reports whether submissions are relayed.
func (r RemoteConfig) Enabled() bool {
	return r.Host != ""
}

// LedgerConfig tunes the per-job status database.
type LedgerConfig struct {
	JournalMode string        `mapstructure:"journal_mode"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RunnerConfig shapes the generated scripts.
type RunnerConfig struct {
	// Binary is the psub executable used by task workers. Defaults to the
	// running executable.
	Binary   string   `mapstructure:"binary"`
	Setup    []string `mapstructure:"setup"`
	Teardown []string `mapstructure:"teardown"`
}

// HistoryConfig bounds the history store.
type HistoryConfig struct {
	// Limit keeps at most this many jobs; 0 keeps all.
	Limit int `mapstructure:"limit"`
	// MaxAge is the default for gc.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// StatusConfig tunes status output.
type StatusConfig struct {
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
	// File, when set, receives logs in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ServerConfig configures the read-only status server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JobPaths returns the job layout roots.
func (c *Config) JobPaths() job.Paths {
	return job.Paths{Root: c.Paths.Root, Scratch: c.Paths.Scratch}
}

// HistoryDir is where submitted job records live.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.Paths.Root, "history")
}
