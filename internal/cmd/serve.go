package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/server"
	"github.com/phoenix-pocx/phoenixd/internal/server/handlers"
	"github.com/phoenix-pocx/phoenixd/pkg/events"
	"github.com/phoenix-pocx/phoenixd/pkg/history"
	"github.com/phoenix-pocx/phoenixd/pkg/metrics"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plotter daemon",
	Long: `Run the plotter daemon and expose its control API over HTTP.

The daemon holds at most one plot plan. Install one with
PUT /api/v1/plotter/plan, or pass --plan to load it at startup, then start
it with POST /api/v1/plotter/start.

Examples:
  phoenixd serve
  phoenixd serve --port 9191 --plan plan.yaml
  phoenixd serve --manual     # advance and execute through the API`,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	servePlan   string
	serveManual bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override server.host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override server.port")
	serveCmd.Flags().StringVar(&servePlan, "plan", "", "Plan file to install at startup")
	serveCmd.Flags().BoolVar(&serveManual, "manual", false, "Disable auto-advance")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := *config.GetConfig()
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if serveManual {
		cfg.Plotter.AutoAdvance = false
	}

	logger, closeLog, err := newDaemonLogger(&cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = closeLog() }()

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Dispatches outlive individual requests; they end with the daemon.
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()

	stack, cleanup, err := buildPlotterStack(dispatchCtx, &cfg, logger, stackOptions{
		autoAdvance: cfg.Plotter.AutoAdvance,
		history:     true,
		metrics:     cfg.Metrics.Enabled,
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to initialize plotter", err)
	}
	defer cleanup()

	if servePlan != "" {
		p, err := plan.Load(servePlan)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid plan", err)
		}
		stack.runtime.SetPlan(p)
		logger.Info("Plan installed", zap.String("path", servePlan), zap.Int("items", p.Len()))
	}

	handlers.InitHealthManager(versionInfo.Version)
	health := handlers.GetHealthManager()
	health.RegisterChecker("signal", signalHealthChecker{})
	if id := GetAppIdentity(); id != nil {
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	health.RegisterChecker("history", historyHealthChecker{store: stack.history})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("metrics", metricsHealthChecker{metrics: stack.metrics})
	}

	opts := []server.Option{
		server.WithLogger(logger.Named("http")),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithPlotter(handlers.NewPlotter(handlers.PlotterConfig{
			Dispatcher:  stack.dispatcher,
			Controller:  stack.controller,
			Fingerprint: currentFingerprint,
			Registry:    stack.registry,
			Logger:      logger.Named("api"),
			Events:      stack.hub,
		})),
		server.WithHistory(handlers.NewHistory(stack.history)),
		server.WithEvents(events.Handler(stack.hub, events.StreamConfig{
			State:            stack.runtime.State,
			ProgressInterval: time.Second,
			Logger:           logger.Named("events"),
		})),
		server.WithPprof(cfg.Debug.Enabled && cfg.Debug.PprofEnabled),
	}
	if stack.metrics != nil {
		opts = append(opts, server.WithMetrics(stack.metrics.Handler()))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)
	if err := srv.Listen(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to bind server", err)
	}

	health.SetStarted(true)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	logger.Info("phoenixd started",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.String("config", config.ConfigFileUsed()))

	select {
	case err := <-serveErr:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if stack.runtime.IsRunning() {
		logger.Warn("Aborting dispatch in flight")
		stack.runtime.RequestHardStop()
		waitIdle(shutdownCtx, stack.runtime.IsRunning)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	return nil
}

// waitIdle polls running until it reports false or ctx ends.
func waitIdle(ctx context.Context, running func() bool) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for running() {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

type historyHealthChecker struct {
	store *history.Store
}

func (c historyHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("history journal not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.store.Count(); err != nil {
		return fmt.Errorf("history journal unreadable: %w", err)
	}
	return nil
}

type metricsHealthChecker struct {
	metrics *metrics.Metrics
}

func (c metricsHealthChecker) CheckHealth(context.Context) error {
	if c.metrics == nil {
		return errors.New("metrics registry not initialized")
	}
	if _, err := c.metrics.Registry().Gather(); err != nil {
		return fmt.Errorf("metrics gather failed: %w", err)
	}
	return nil
}
