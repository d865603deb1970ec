// Package api serves retrieved run artifacts and the run index over
// HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/config"
	"github.com/dbt-markwan/dbt-log-retriever/pkg/runindex"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the artifact server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.ServerConfig
	outputDir   string
	index       runindex.Store
	localServer *localFileServer
	httpServer  *http.Server
	wg          sync.WaitGroup
}

// NewServer creates an artifact server rooted at the given output
// directory. index may be nil when the run index is disabled; its
// lifecycle belongs to the caller.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	outputDir string,
	index runindex.Store,
) Server {
	return &server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		outputDir: outputDir,
		index:     index,
	}
}

// Start builds the router and starts the HTTP server.
func (s *server) Start(_ context.Context) error {
	s.localServer = newLocalFileServer(s.log, s.outputDir)

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).
			Info("Artifact server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("Artifact server stopped")

	return nil
}
