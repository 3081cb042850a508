package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
)

func TestMaskAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bech32 address",
			input: "pocx1qxyz0123456789abcd",
			want:  "pocx1q…abcd",
		},
		{
			name:  "short address",
			input: "pocx1qabc",
			want:  "****",
		},
		{
			name:  "empty address",
			input: "",
			want:  "****",
		},
		{
			name:  "11 chars shows prefix and suffix",
			input: "abcdefghijk",
			want:  "abcdef…hijk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskAddress(tt.input))
		})
	}
}

func TestCheckEngine(t *testing.T) {
	t.Run("empty selects simulated", func(t *testing.T) {
		got, err := checkEngine("")
		require.NoError(t, err)
		assert.Equal(t, "simulated", got)
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := checkEngine(filepath.Join(t.TempDir(), "no-such-plotter"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("executable file", func(t *testing.T) {
		bin := filepath.Join(t.TempDir(), "plotter")
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
		got, err := checkEngine(bin)
		require.NoError(t, err)
		assert.Equal(t, bin, got)
	})
}

func TestCheckWritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	require.NoError(t, checkWritableDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must be removed")
}

func TestRunDriveChecks(t *testing.T) {
	observability.InitCLILogger("test", false)

	ok := runDriveChecks([]config.DriveConfig{
		{Path: t.TempDir(), AllocatedUnits: 16},
		{Path: filepath.Join(t.TempDir(), "not-plotted-yet"), AllocatedUnits: 16},
	}, 8, 9)
	assert.True(t, ok)
}
