// Package server provides the HTTP API over the extension runtime.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vvf/internal/config"
	"github.com/mantonx/vvf/internal/icons"
	"github.com/mantonx/vvf/internal/metrics"
	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/installed"
	"github.com/mantonx/vvf/internal/updates"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Options wires the server. Only Manager is required.
type Options struct {
	Config      config.ServerConfig
	MetricsPath string

	Manager  *pluginmodule.Manager
	DB       *gorm.DB
	Icons    *icons.Cache
	Launcher *installed.Launcher
	Updates  *updates.Checker
	Metrics  *metrics.Metrics
	Logger   hclog.Logger
}

// Server is the HTTP front of the extension runtime.
type Server struct {
	opts   Options
	logger hclog.Logger
	engine *gin.Engine
	status *StatusTracker
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("server requires an extension manager")
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Config.Mode != "" {
		gin.SetMode(opts.Config.Mode)
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("server"),
	}
	if opts.DB != nil {
		s.status = NewStatusTracker(opts.DB, opts.Manager, s.logger)
	}
	s.engine = s.setupRouter()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Config.Host, strconv.Itoa(s.opts.Config.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.Config.ReadTimeout,
		WriteTimeout: s.opts.Config.WriteTimeout,
	}

	if s.status != nil {
		s.status.Start()
		defer s.status.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
