package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Profiles(t *testing.T) {
	for _, profile := range []string{"", "structured", ProfileStructured, ProfileConsole} {
		logger, closeFn, err := NewLogger(LoggerOptions{Level: "debug", Profile: profile})
		require.NoError(t, err, profile)
		require.NotNil(t, logger)
		require.NoError(t, closeFn())
	}
}

func TestNewLogger_Rejects(t *testing.T) {
	_, _, err := NewLogger(LoggerOptions{Level: "chatty"})
	assert.Error(t, err)

	_, _, err = NewLogger(LoggerOptions{Profile: "FANCY"})
	assert.Error(t, err)
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "phoenixd.log")
	logger, closeFn, err := NewLogger(LoggerOptions{Service: "phoenixd", Level: "info", File: path, MaxSizeKB: 64, MaxRolls: 1})
	require.NoError(t, err)

	logger.Info("plan loaded")
	logger.Debug("filtered out")
	require.NoError(t, closeFn())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"plan loaded"`)
	assert.Contains(t, string(b), `"service":"phoenixd"`)
	assert.NotContains(t, string(b), "filtered out")
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	t.Cleanup(func() { CLILogger = orig })

	InitCLILogger("test", true)
	require.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(-1), "verbose enables debug")
}
