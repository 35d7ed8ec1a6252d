// Package api exposes the money-age ledger over HTTP.
//
// All routes live under /api/v1 and answer with {code, data} on success or
// {code, message} on failure. Reads never block on writes for longer than one
// ledger operation.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/ledger"
)

// SnapshotLister reads persisted snapshots, newest first.
// Implemented by store.Store and store.Memory.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]ledger.MoneyAgeSnapshot, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	manager   *consistency.Manager
	journal   *journal.Journal
	snapshots SnapshotLister
	logger    *slog.Logger
}

// NewServer creates a Server. A nil logger means slog.Default().
func NewServer(m *consistency.Manager, j *journal.Journal, snapshots SnapshotLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{manager: m, journal: j, snapshots: snapshots, logger: logger}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())

	v1 := r.Group("/api/v1")

	v1.GET("/status", s.status)
	v1.GET("/money-age", s.moneyAge)
	v1.GET("/statistics", s.statistics)
	v1.GET("/history", s.history)
	v1.GET("/dirty", s.dirty)
	v1.GET("/pools", s.listPools)
	v1.GET("/pools/:id", s.getPool)
	v1.GET("/consumptions", s.listConsumptions)
	v1.GET("/snapshots", s.listSnapshots)
	v1.POST("/snapshots", s.takeSnapshot)

	v1.POST("/simulate", s.simulate)
	v1.POST("/predict", s.predict)
	v1.POST("/rebuild", s.rebuild)
	v1.POST("/advance", s.advance)

	v1.GET("/transactions", s.listTransactions)
	v1.GET("/transactions/:id", s.getTransaction)
	v1.POST("/transactions", s.createTransaction)
	v1.PATCH("/transactions/:id", s.updateTransaction)
	v1.DELETE("/transactions/:id", s.deleteTransaction)

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
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
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			s.logger.Error("request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		s.logger.Debug("request", attrs...)
	}
}
