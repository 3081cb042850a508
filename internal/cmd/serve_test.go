package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/pkg/history"
	"github.com/phoenix-pocx/phoenixd/pkg/metrics"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

func TestSignalHealthChecker(t *testing.T) {
	assert.NoError(t, signalHealthChecker{}.CheckHealth(context.Background()))
}

func TestMetricsHealthChecker(t *testing.T) {
	t.Run("returns error when metrics not initialized", func(t *testing.T) {
		err := metricsHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics registry not initialized")
	})

	t.Run("gathers registered collectors", func(t *testing.T) {
		checker := metricsHealthChecker{metrics: metrics.New(plotter.NewRuntime(nil))}
		assert.NoError(t, checker.CheckHealth(context.Background()))
	})
}

func TestHistoryHealthChecker(t *testing.T) {
	t.Run("returns error when journal not initialized", func(t *testing.T) {
		err := historyHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "history journal not initialized")
	})

	t.Run("open journal is healthy", func(t *testing.T) {
		store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 10, zap.NewNop())
		require.NoError(t, err)
		defer func() { _ = store.Close() }()

		assert.NoError(t, historyHealthChecker{store: store}.CheckHealth(context.Background()))
	})

	t.Run("cancelled context", func(t *testing.T) {
		store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), 10, zap.NewNop())
		require.NoError(t, err)
		defer func() { _ = store.Close() }()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, historyHealthChecker{store: store}.CheckHealth(ctx), context.Canceled)
	})
}

func TestWaitIdle(t *testing.T) {
	var calls int
	waitIdle(context.Background(), func() bool {
		calls++
		return calls < 3
	})
	assert.Equal(t, 3, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waitIdle(ctx, func() bool { return true })
}

func TestIdentityHealthChecker(t *testing.T) {
	full := func() identityHealthChecker {
		id := config.DefaultIdentity
		return identityHealthChecker{binaryName: id.BinaryName, envPrefix: id.EnvPrefix, configName: id.ConfigName}
	}
	require.NoError(t, full().CheckHealth(context.Background()))

	blank := map[string]func(*identityHealthChecker){
		"missing binary name": func(c *identityHealthChecker) { c.binaryName = "" },
		"missing env prefix":  func(c *identityHealthChecker) { c.envPrefix = "" },
		"missing config name": func(c *identityHealthChecker) { c.configName = "" },
	}
	for want, unset := range blank {
		t.Run(want, func(t *testing.T) {
			c := full()
			unset(&c)
			assert.ErrorContains(t, c.CheckHealth(context.Background()), want)
		})
	}
}
