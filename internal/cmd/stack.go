package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/engine"
	"github.com/phoenix-pocx/phoenixd/pkg/events"
	"github.com/phoenix-pocx/phoenixd/pkg/history"
	"github.com/phoenix-pocx/phoenixd/pkg/metrics"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// plotterStack is the wired execution engine shared by serve and run.
type plotterStack struct {
	cfg        *config.Config
	logger     *zap.Logger
	runtime    *plotter.Runtime
	dispatcher *plotter.Dispatcher
	controller *plotter.Controller
	hub        *events.Hub
	registry   *drives.Registry
	history    *history.Store
	metrics    *metrics.Metrics
}

type stackOptions struct {
	autoAdvance bool
	history     bool
	metrics     bool

	// extraSinks run after history and metrics, before the controller.
	extraSinks []plotter.Sink
}

// buildPlotterStack wires runtime, dispatcher, fan-out and controller.
// Cancelling ctx aborts the dispatch in flight.
func buildPlotterStack(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts stackOptions) (*plotterStack, func(), error) {
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, nil, err
	}

	s := &plotterStack{
		cfg:      cfg,
		logger:   logger,
		runtime:  plotter.NewRuntime(nil),
		hub:      events.NewHub(0),
		registry: drives.NewRegistry(),
	}
	cleanup := func() {}

	if opts.history {
		store, err := history.Open(cfg.Plotter.HistoryPath, cfg.Plotter.HistoryLimit, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		s.history = store
		s.hub.AddSink(store)
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close history", zap.Error(err))
			}
		}
	}
	if opts.metrics {
		s.metrics = metrics.New(s.runtime)
		s.hub.AddSink(s.metrics)
	}
	for _, sink := range opts.extraSinks {
		s.hub.AddSink(sink)
	}

	s.dispatcher = plotter.NewDispatcher(plotter.DispatcherConfig{
		Runtime:             s.runtime,
		Engine:              eng,
		Settings:            currentTaskSettings,
		Sink:                s.hub,
		Registrar:           s.registry,
		Logger:              logger.Named("dispatcher"),
		BaseContext:         ctx,
		ProgressLogInterval: cfg.Plotter.ProgressInterval,
	})

	if opts.autoAdvance {
		s.controller = plotter.NewController(s.dispatcher, logger.Named("controller"))
		s.controller.OnFinish(s.hub.PublishFinish)
		s.hub.AddSink(s.controller)
	}

	logger.Info("Plotter ready",
		zap.String("engine", engineName(cfg)),
		zap.Bool("auto_advance", opts.autoAdvance),
		zap.Bool("history", s.history != nil),
		zap.Bool("metrics", s.metrics != nil))
	return s, cleanup, nil
}

// currentTaskSettings reads the mining section at dispatch time so saved
// config changes apply to the next dispatch.
func currentTaskSettings() plotter.TaskSettings {
	cfg := config.GetConfig()
	if cfg == nil {
		return plotter.TaskSettings{}
	}
	return cfg.Mining.TaskSettings()
}

func currentFingerprint() (string, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return "", fmt.Errorf("configuration not loaded")
	}
	return cfg.Mining.Fingerprint()
}

func newEngine(cfg *config.Config) (engine.Engine, error) {
	if cfg.Plotter.EnginePath == "" {
		return engine.NewSimulated(engine.SimulatedConfig{
			UnitsPerTick: cfg.Plotter.SimulatedUnitsPerTick,
			Tick:         cfg.Plotter.SimulatedTick,
		}), nil
	}
	eng, err := engine.NewExec(engine.ExecConfig{
		Path:   cfg.Plotter.EnginePath,
		Args:   cfg.Plotter.EngineArgs,
		LogDir: engine.LogDirFor(config.DataDir()),
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}

func engineName(cfg *config.Config) string {
	if cfg.Plotter.EnginePath == "" {
		return "simulated"
	}
	return cfg.Plotter.EnginePath
}

// newDaemonLogger builds the logger described by the logging section.
func newDaemonLogger(cfg *config.Config) (*zap.Logger, func() error, error) {
	return observability.NewLogger(observability.LoggerOptions{
		Service:   "phoenixd",
		Level:     cfg.Logging.Level,
		Profile:   cfg.Logging.Profile,
		File:      cfg.Logging.File,
		MaxSizeKB: int64(cfg.Logging.MaxSize / 1024),
		MaxRolls:  cfg.Logging.MaxRolls,
	})
}
