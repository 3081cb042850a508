// Package config loads the phoenixd configuration.
//
// Precedence, highest first: runtime overrides, environment variables, the
// config file, defaults.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/observability"
)

// Identity names the application for config paths and env vars.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity of the phoenixd binary.
var DefaultIdentity = Identity{BinaryName: "phoenixd", EnvPrefix: "PHOENIXD", ConfigName: "phoenixd"}

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *Identity
	configFile  string
	usedFile    string
)

// SetConfigFile selects an explicit config file for subsequent loads.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load reads the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	explicit := configFile
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	file, err := readConfigFile(v, explicit)
	if err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		byteSizeHook(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Plotter.HistoryPath == "" {
		cfg.Plotter.HistoryPath = filepath.Join(DataDir(), "history.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	usedFile = file
	configMu.Unlock()

	if logger := observability.CLILogger; logger != nil {
		logger.Debug("Configuration loaded", zap.String("file", file))
	}
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// ConfigFileUsed returns the file the last load read, or "".
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return usedFile
}

// DataDir returns the application data directory.
func DataDir() string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	name := DefaultIdentity.ConfigName
	if id != nil {
		name = id.ConfigName
	}
	return gfconfig.GetAppDataDir(name)
}

// DefaultConfigPath is where Save writes when no file was loaded.
func DefaultConfigPath() string {
	paths := getUserConfigPaths()
	if len(paths) == 0 {
		return filepath.Join(DataDir(), "config.yaml")
	}
	return paths[0]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", "10MiB")
	v.SetDefault("logging.max_rolls", 3)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("plotter.auto_advance", true)
	v.SetDefault("plotter.engine_path", "")
	v.SetDefault("plotter.engine_args", []string{})
	v.SetDefault("plotter.history_path", "")
	v.SetDefault("plotter.history_limit", 500)
	v.SetDefault("plotter.progress_interval", "10s")
	v.SetDefault("plotter.simulated_units_per_tick", 8)
	v.SetDefault("plotter.simulated_tick", "250ms")

	v.SetDefault("mining.address", "")
	v.SetDefault("mining.compression_level", 1)
	v.SetDefault("mining.escalation", 1)
	v.SetDefault("mining.memory_limit", "")
	v.SetDefault("mining.direct_io", true)
	v.SetDefault("mining.zero_copy_buffers", false)
	v.SetDefault("mining.low_priority", false)
	v.SetDefault("mining.parallel_drives", 1)
	v.SetDefault("mining.simulation_mode", false)
}

func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}
	p := id.EnvPrefix + "_"
	return []EnvSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "LOG_FILE", Path: "logging.file"},
		{Name: p + "METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: p + "DEBUG", Path: "debug.enabled"},
		{Name: p + "PPROF_ENABLED", Path: "debug.pprof_enabled"},
		{Name: p + "AUTO_ADVANCE", Path: "plotter.auto_advance"},
		{Name: p + "ENGINE_PATH", Path: "plotter.engine_path"},
		{Name: p + "HISTORY_PATH", Path: "plotter.history_path"},
		{Name: p + "ADDRESS", Path: "mining.address"},
		{Name: p + "COMPRESSION_LEVEL", Path: "mining.compression_level"},
		{Name: p + "PARALLEL_DRIVES", Path: "mining.parallel_drives"},
		{Name: p + "MEMORY_LIMIT", Path: "mining.memory_limit"},
		{Name: p + "SIMULATION_MODE", Path: "mining.simulation_mode"},
	}
}

func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName, "config.yaml"))
	}
	paths = append(paths, filepath.Join(gfconfig.GetAppDataDir(id.ConfigName), "config.yaml"))
	return paths
}

// readConfigFile merges the explicit file, or the first existing user
// config file. A missing explicit file is an error; missing user files are not.
func readConfigFile(v *viper.Viper, explicit string) (string, error) {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func byteSizeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(ByteSize(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			n, err := humanize.ParseBytes(data.(string))
			if err != nil {
				return nil, err
			}
			return ByteSize(n), nil
		default:
			return data, nil
		}
	}
}
