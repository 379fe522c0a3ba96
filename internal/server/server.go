// Package server runs collections on a schedule and serves the latest
// inventory, report and Prometheus metrics over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vdicollect/internal/generator"
	"vdicollect/internal/graph"
	"vdicollect/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CollectFunc performs one collection run.
type CollectFunc func(ctx context.Context) (*pipeline.Result, error)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	LastRunID  string `json:"last_run_id,omitempty"`
	LastRunAt  string `json:"last_run_at,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type Server struct {
	collect  CollectFunc
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  *pipeline.Result
	lastErr error
}

func New(collect CollectFunc, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		collect:  collect,
		interval: interval,
		logger:   logger.With("component", "server"),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/inventory", s.handleInventory)
	router.GET("/inventory/:kind", s.handleInventoryKind)
	router.GET("/report", s.handleReport)
	return router
}

// RunOnce performs a collection and publishes its result. A result is
// published even when err is set (e.g. its outputs could not be saved); a
// run that fails before producing one keeps the previous result.
func (s *Server) RunOnce(ctx context.Context) {
	res, err := s.collect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err != nil {
		s.logger.Error("collection failed", "error", err, "has_result", res != nil)
	}
	if res != nil {
		s.latest = res
	}
}

// Loop collects immediately and then on every interval until ctx ends.
func (s *Server) Loop(ctx context.Context) {
	s.RunOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Server) snapshot() (*pipeline.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.lastErr
}

func (s *Server) handleHealth(c *gin.Context) {
	res, err := s.snapshot()
	resp := HealthResponse{Status: "ok"}
	if res != nil {
		resp.LastRunID = res.RunID
		resp.LastRunAt = res.FinishedAt.Format(time.RFC3339)
		resp.LastStatus = res.Status()
	}
	if err != nil {
		resp.Status = "degraded"
		resp.LastError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleInventory(c *gin.Context) {
	res, _ := s.snapshot()
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no collection has completed yet"})
		return
	}
	c.JSON(http.StatusOK, generator.BuildResult(res.Graph, res.RunID, res.FinishedAt, res.Errors))
}

func (s *Server) handleInventoryKind(c *gin.Context) {
	kind := graph.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown kind " + string(kind)})
		return
	}
	res, _ := s.snapshot()
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no collection has completed yet"})
		return
	}
	sub := graph.NewGraph()
	for _, e := range res.Graph.ByKind(kind) {
		_ = sub.Add(e)
	}
	c.JSON(http.StatusOK, generator.BuildResult(sub, res.RunID, res.FinishedAt, nil))
}

func (s *Server) handleReport(c *gin.Context) {
	res, _ := s.snapshot()
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no collection has completed yet"})
		return
	}
	c.JSON(http.StatusOK, res.Report)
}
