package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"followsync/internal/httpapi"
	"followsync/internal/scheduler"
	"followsync/pkg/logger"
)

var (
	// Serve command flags
	listenAddr      string
	withScheduler   bool
	shutdownTimeout time.Duration
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background scheduler",
	Long: `Serve the sync API:

  POST /api/v1/sync                  sync the caller's account
  GET  /api/v1/sync/status           whether a sync is needed or allowed
  GET  /api/v1/followers             the stored follower snapshot
  GET  /api/v1/unfollowers           unfollowers of the last 30 days
  GET  /api/v1/not-following-back    accounts followed that do not follow back
  GET  /health                       store connectivity
  GET  /metrics                      Prometheus metrics

The caller's account id comes from the identity header or a signed JWT,
depending on identity.mode.`,
	Example: `  # Serve on 127.0.0.1:8080 with redis
  followsync serve --store redis --redis-addr localhost:6379

  # Listen on every interface with signed tokens
  FOLLOWSYNC_IDENTITY_MODE=jwt FOLLOWSYNC_JWT_SECRET=... followsync serve --addr :8080

  # Also sync scheduler.accounts every scheduler.interval
  followsync serve --scheduler`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().BoolVar(&withScheduler, "scheduler", false, "run periodic syncs for scheduler.accounts")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "time allowed to drain in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{"addr": listenAddr})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.GetLogger()

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.HasCredentials() {
		log.Warn("No upstream API key configured, syncs will fail until one is set")
	}

	gin.SetMode(gin.ReleaseMode)
	opts := httpapi.Options{
		Server:   cfg.Server,
		Identity: cfg.Identity,
		Health:   a.snapshots,
		Logger:   log,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = a.metrics.Handler()
		opts.MetricsPath = cfg.Metrics.Path
	}
	server, err := httpapi.New(a.syncer, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if withScheduler || cfg.Scheduler.Enabled {
		schedOpts := scheduler.OptionsFromConfig(cfg.Scheduler)
		schedOpts.Retries = a.metrics
		schedOpts.Logger = log
		sched := scheduler.New(a.syncer, schedOpts)
		sched.Start(ctx)
		defer sched.Stop()
	}

	log.InfoWithFields("followsync API listening", map[string]interface{}{
		"addr":     cfg.Server.Addr,
		"identity": cfg.Identity.Mode,
		"store":    cfg.Store.Driver,
	})
	if err := server.ListenAndServe(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("Shutdown complete")
	return nil
}
