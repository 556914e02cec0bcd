package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crzyc98/planwise-navigator-sub000/internal/archive"
	"github.com/crzyc98/planwise-navigator-sub000/internal/batch"
	"github.com/crzyc98/planwise-navigator-sub000/internal/bundle"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/gateway"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/metrics"
	"github.com/crzyc98/planwise-navigator-sub000/internal/results"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the studio HTTP and websocket API",
	Long: `Starts the control plane: workspace and scenario management, run
execution with live telemetry over websockets, batches, result queries,
bundles, and Prometheus metrics on /metrics. SIGINT/SIGTERM drain and
stop the server.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListenAddr != "" {
		settings.Gateway.ListenAddr = serveListenAddr
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	hub := telemetry.NewHub(settings.Telemetry.SubscriberBuffer)
	exec := executor.New(store, hub, archive.NewArchiver(store, nil), settings)

	m := metrics.New(store, hub, exec)
	exec.OnSettle(func(run workspace.Run) {
		m.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	})

	srv := gateway.New(gateway.Deps{
		Store:    store,
		Executor: exec,
		Batches:  batch.NewScheduler(exec, store, hub, settings),
		Reader:   results.NewReader(store, settings),
		Bundler:  bundle.New(store, settings),
		Hub:      hub,
		Settings: settings,
		Metrics:  m,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hot-reload the logging section when the settings file changes;
	// functional settings stay as loaded.
	if watcher, werr := logging.NewSettingsWatcher(configPath); werr == nil {
		_ = watcher.Start(ctx)
		defer watcher.Stop()
	} else {
		logger.Warn("settings watcher unavailable", zap.Error(werr))
	}

	logger.Info("studio starting",
		zap.String("addr", settings.Gateway.ListenAddr),
		zap.String("workspaces_root", settings.WorkspacesRoot))
	return srv.Run(ctx)
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (default from settings)")
}
