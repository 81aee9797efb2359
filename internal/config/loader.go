package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/psub/pkg/job"
)

// EnvPrefix prefixes every environment variable psub reads.
const EnvPrefix = "PSUB_"

// ConfigFileEnv names an explicit config file.
const ConfigFileEnv = EnvPrefix + "CONFIG"

// ConfigFileKey is the override key for an explicit config file (the
// --config flag). It wins over $PSUB_CONFIG.
const ConfigFileKey = "config_file"

// DefaultRootName is the directory under $HOME used when no root is set.
const DefaultRootName = ".psub"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envSpec maps one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	specs := map[string]string{
		"ROOT":             "paths.root",
		"SCRATCH":          "paths.scratch",
		"ARCH":             "resources.arch",
		"MEMORY":           "resources.memory",
		"TIME":             "resources.time",
		"HIGHP":            "resources.highp",
		"CORES":            "resources.cores",
		"BATCH_SIZE":       "resources.batch_size",
		"REMOTE_HOST":      "remote.host",
		"SSH_BINARY":       "remote.ssh_binary",
		"SSH_OPTIONS":      "remote.ssh_options",
		"JOURNAL_MODE":     "ledger.journal_mode",
		"BUSY_TIMEOUT":     "ledger.busy_timeout",
		"RUNNER_BINARY":    "runner.binary",
		"HISTORY_LIMIT":    "history.limit",
		"HISTORY_MAX_AGE":  "history.max_age",
		"WATCH_INTERVAL":   "status.watch_interval",
		"LOG_LEVEL":        "logging.level",
		"LOG_PROFILE":      "logging.profile",
		"LOG_FILE":         "logging.file",
		"HOST":             "server.host",
		"PORT":             "server.port",
		"READ_TIMEOUT":     "server.read_timeout",
		"WRITE_TIMEOUT":    "server.write_timeout",
		"IDLE_TIMEOUT":     "server.idle_timeout",
		"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	}

	out := make([]envSpec, 0, len(specs))
	for name, path := range specs {
		out = append(out, envSpec{Name: EnvPrefix + name, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func setDefaults(v *viper.Viper) {
	res := job.DefaultResources()
	v.SetDefault("paths.root", "")
	v.SetDefault("paths.scratch", "")

	v.SetDefault("resources.arch", res.Arch)
	v.SetDefault("resources.memory", res.Memory)
	v.SetDefault("resources.time", res.Time)
	v.SetDefault("resources.highp", res.HighP)
	v.SetDefault("resources.cores", res.Cores)
	v.SetDefault("resources.batch_size", res.BatchSize)

	v.SetDefault("remote.host", "")
	v.SetDefault("remote.ssh_binary", "ssh")
	v.SetDefault("remote.ssh_options", []string{})

	// WAL needs shared memory, which task workers on other hosts cannot see.
	v.SetDefault("ledger.journal_mode", "delete")
	v.SetDefault("ledger.busy_timeout", "30s")

	v.SetDefault("runner.binary", "")
	v.SetDefault("runner.setup", []string{})
	v.SetDefault("runner.teardown", []string{})

	v.SetDefault("history.limit", 100)
	v.SetDefault("history.max_age", "720h")

	v.SetDefault("status.watch_interval", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// Load builds the configuration. Later overrides win over earlier ones and
// over every other source.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}
	if err := v.BindEnv(ConfigFileKey, ConfigFileEnv); err != nil {
		return nil, fmt.Errorf("bind %s: %w", ConfigFileEnv, err)
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	root, err := resolveRoot(v.GetString("paths.root"))
	if err != nil {
		return nil, err
	}
	if err := readConfigFile(v, root); err != nil {
		return nil, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// ConfigFilePath is the file Load reads when no explicit file is given.
func ConfigFilePath(root string) string {
	return filepath.Join(root, "config.yaml")
}

func readConfigFile(v *viper.Viper, root string) error {
	path := strings.TrimSpace(v.GetString(ConfigFileKey))
	explicit := path != ""
	if !explicit {
		path = ConfigFilePath(root)
	}

	v.SetConfigFile(expandHome(path))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, DefaultRootName), nil
	}
	root = expandHome(root)
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	return abs, nil
}

func (c *Config) finalize() error {
	root, err := resolveRoot(c.Paths.Root)
	if err != nil {
		return err
	}
	c.Paths.Root = root

	if strings.TrimSpace(c.Paths.Scratch) == "" {
		c.Paths.Scratch = filepath.Join(root, "tmp")
	} else {
		scratch, err := filepath.Abs(expandHome(c.Paths.Scratch))
		if err != nil {
			return fmt.Errorf("resolve scratch %s: %w", c.Paths.Scratch, err)
		}
		c.Paths.Scratch = scratch
	}

	c.Resources = c.Resources.Normalize()
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Profile = strings.ToLower(strings.TrimSpace(c.Logging.Profile))
	if c.Logging.File != "" {
		c.Logging.File = expandHome(c.Logging.File)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit must be >= 0")
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			for ck, cv := range flatten(key, child) {
				out[ck] = cv
			}
			continue
		}
		out[key] = v
	}
	return out
}
