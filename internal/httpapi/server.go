// Package httpapi exposes the sync orchestrator over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"followsync/pkg/config"
	"followsync/pkg/logger"
	"followsync/pkg/models"
	"followsync/pkg/syncer"
)

// Service is the part of the orchestrator the HTTP surface drives
type Service interface {
	Sync(ctx context.Context, accountID string) (*syncer.Result, error)
	Followers(ctx context.Context, accountID string) (models.Snapshot, error)
	Unfollowers(ctx context.Context, accountID string) ([]models.UnfollowEvent, error)
	NotFollowingBack(ctx context.Context, accountID string, refresh bool) ([]models.FollowerRecord, error)
	Status(ctx context.Context, accountID string) (*syncer.Status, error)
}

// Pinger reports backend health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server
type Options struct {
	Server   config.ServerConfig
	Identity config.IdentityConfig

	// Health is pinged by GET /health when set
	Health Pinger
	// Metrics is mounted at MetricsPath when set
	Metrics     http.Handler
	MetricsPath string

	Logger logger.Logger
}

// Server is the HTTP front of the sync engine
type Server struct {
	engine   *gin.Engine
	svc      Service
	opts     Options
	identity *IdentityResolver
	logger   logger.Logger
}

// New builds the gin engine and registers every route
func New(svc Service, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	identity, err := NewIdentityResolver(opts.Identity)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:   gin.New(),
		svc:      svc,
		opts:     opts,
		identity: identity,
		logger:   opts.Logger.WithField("component", "httpapi"),
	}
	s.engine.Use(gin.Recovery(), RequestLogger(s.logger))
	s.RegisterRoutes(s.engine)
	return s, nil
}

// RegisterRoutes registers all routes onto the gin engine
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.Health)
	if s.opts.Metrics != nil {
		r.GET(s.opts.MetricsPath, gin.WrapH(s.opts.Metrics))
	}

	api := r.Group("/api/v1", s.identity.Require())
	{
		api.POST("/sync", s.Sync)
		api.GET("/sync/status", s.SyncStatus)
		api.GET("/followers", s.Followers)
		api.GET("/unfollowers", s.Unfollowers)
		api.GET("/not-following-back", s.NotFollowingBack)
	}
}

// Handler returns the engine as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         s.opts.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(s.logger, "http server", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	logger.LogComponentStop(s.logger, "http server", "context cancelled")
	return err
}
