// Package observability provides the process loggers.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger used by commands and packages that
// have no logger of their own. It is nil until InitCLILogger runs.
var CLILogger *zap.Logger

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Service string
	Level   string
	Profile string

	// File adds a size-rotated log file. MaxSizeKB is the rotation
	// threshold and MaxRolls the number of rolled files kept.
	File      string
	MaxSizeKB int64
	MaxRolls  int
}

// InitCLILogger installs a console logger on stderr as CLILogger.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, _, err := NewLogger(LoggerOptions{Service: name, Level: level, Profile: ProfileConsole})
	if err != nil {
		logger = zap.NewNop()
	}
	CLILogger = logger
}

// NewLogger builds a logger from opts. The returned close function flushes
// the logger and closes the rotating file, if any.
func NewLogger(opts LoggerOptions) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(orDefault(opts.Level, "info"))))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var stderrEnc zapcore.Encoder
	switch strings.ToUpper(orDefault(opts.Profile, ProfileStructured)) {
	case ProfileStructured:
		stderrEnc = zapcore.NewJSONEncoder(encCfg)
	case ProfileConsole:
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stderrEnc = zapcore.NewConsoleEncoder(consoleCfg)
	default:
		return nil, nil, fmt.Errorf("unknown log profile %q", opts.Profile)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stderrEnc, zapcore.Lock(os.Stderr), level),
	}

	var rot *rotator.Rotator
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		threshold := opts.MaxSizeKB
		if threshold <= 0 {
			threshold = 10 * 1024
		}
		rolls := opts.MaxRolls
		if rolls <= 0 {
			rolls = 3
		}
		rot, err = rotator.New(opts.File, threshold, false, rolls)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		// Files are always JSON regardless of the stderr profile.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rot), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}

	closeFn := func() error {
		_ = logger.Sync()
		if rot != nil {
			return rot.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
