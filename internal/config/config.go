package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// Config is the daemon configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
	Debug   DebugConfig   `mapstructure:"debug" yaml:"debug"`
	Plotter PlotterConfig `mapstructure:"plotter" yaml:"plotter"`
	Mining  MiningConfig  `mapstructure:"mining" yaml:"mining"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`

	// File enables a rotating log file in addition to stderr.
	File     string   `mapstructure:"file" yaml:"file,omitempty"`
	MaxSize  ByteSize `mapstructure:"max_size" yaml:"max_size"`
	MaxRolls int      `mapstructure:"max_rolls" yaml:"max_rolls"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

// PlotterConfig configures plan execution.
type PlotterConfig struct {
	// AutoAdvance makes the daemon advance and dispatch on every completion.
	// When false the caller drives execution through advance/execute.
	AutoAdvance bool `mapstructure:"auto_advance" yaml:"auto_advance"`

	// EnginePath is the external plotter binary. Empty selects the
	// simulated engine.
	EnginePath string   `mapstructure:"engine_path" yaml:"engine_path,omitempty"`
	EngineArgs []string `mapstructure:"engine_args" yaml:"engine_args,omitempty"`

	HistoryPath  string `mapstructure:"history_path" yaml:"history_path,omitempty"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit"`

	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`

	SimulatedUnitsPerTick uint64        `mapstructure:"simulated_units_per_tick" yaml:"simulated_units_per_tick"`
	SimulatedTick         time.Duration `mapstructure:"simulated_tick" yaml:"simulated_tick"`
}

// MiningConfig holds the plotting parameters persisted by the wallet.
type MiningConfig struct {
	Address          string `mapstructure:"address" yaml:"address"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level"`
	Escalation       int    `mapstructure:"escalation" yaml:"escalation"`

	// MemoryLimit is a byte size such as "8GiB". Empty lets the engine decide.
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit,omitempty"`

	DirectIO        bool `mapstructure:"direct_io" yaml:"direct_io"`
	ZeroCopyBuffers bool `mapstructure:"zero_copy_buffers" yaml:"zero_copy_buffers"`
	LowPriority     bool `mapstructure:"low_priority" yaml:"low_priority"`
	ParallelDrives  int  `mapstructure:"parallel_drives" yaml:"parallel_drives"`

	// SimulationMode runs the engine in benchmark mode without disk writes.
	SimulationMode bool `mapstructure:"simulation_mode" yaml:"simulation_mode"`

	Devices []DeviceConfig `mapstructure:"devices" yaml:"devices,omitempty"`
	Drives  []DriveConfig  `mapstructure:"drives" yaml:"drives,omitempty"`
}

// DeviceConfig allocates a plotting device. The CPU uses the id "cpu".
type DeviceConfig struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Threads int    `mapstructure:"threads" yaml:"threads"`
}

// DriveConfig is one output drive.
type DriveConfig struct {
	Path           string `mapstructure:"path" yaml:"path"`
	AllocatedUnits uint64 `mapstructure:"allocated_units" yaml:"allocated_units"`
}

// ByteSize is a size parsed from strings like "10MB" or "1GiB".
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// MarshalYAML writes the human-readable form.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// Validate checks values that the decoder cannot.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch strings.ToUpper(c.Logging.Profile) {
	case "STRUCTURED", "CONSOLE":
	default:
		return fmt.Errorf("logging.profile must be STRUCTURED or CONSOLE, got %q", c.Logging.Profile)
	}
	return c.Mining.Validate()
}

// Validate checks the mining section.
func (m *MiningConfig) Validate() error {
	if m.CompressionLevel < 0 {
		return fmt.Errorf("mining.compression_level must be >= 0")
	}
	if m.ParallelDrives < 0 {
		return fmt.Errorf("mining.parallel_drives must be >= 0")
	}
	if s := strings.TrimSpace(m.MemoryLimit); s != "" {
		if _, err := humanize.ParseBytes(s); err != nil {
			return fmt.Errorf("mining.memory_limit: %w", err)
		}
	}
	for i, d := range m.Devices {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("mining.devices[%d]: id is required", i)
		}
		if d.Threads < 0 {
			return fmt.Errorf("mining.devices[%d]: threads must be >= 0", i)
		}
	}
	for i, d := range m.Drives {
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("mining.drives[%d]: path is required", i)
		}
	}
	return nil
}

// PlanSettings returns the planner inputs derived from the mining section.
func (m *MiningConfig) PlanSettings() *plan.Settings {
	s := &plan.Settings{
		Address:          m.Address,
		CompressionLevel: m.CompressionLevel,
		ParallelDrives:   m.ParallelDrives,
	}
	for _, d := range m.Drives {
		s.Drives = append(s.Drives, plan.Drive{Path: d.Path, AllocatedUnits: d.AllocatedUnits})
	}
	return s
}

// Fingerprint is the configHash a plan generated from this section carries.
func (m *MiningConfig) Fingerprint() (string, error) {
	return plan.HashSettings(m.PlanSettings())
}

// TaskSettings returns the engine parameters for dispatch.
func (m *MiningConfig) TaskSettings() plotter.TaskSettings {
	s := plotter.TaskSettings{
		Address:         m.Address,
		Compression:     m.CompressionLevel,
		Escalation:      m.Escalation,
		MemoryLimit:     strings.TrimSpace(m.MemoryLimit),
		DirectIO:        m.DirectIO,
		ZeroCopyBuffers: m.ZeroCopyBuffers,
		LowPriority:     m.LowPriority,
		Benchmark:       m.SimulationMode,
	}
	for _, d := range m.Devices {
		s.Devices = append(s.Devices, plotter.Device{ID: d.ID, Enabled: d.Enabled, Threads: d.Threads})
	}
	return s
}
