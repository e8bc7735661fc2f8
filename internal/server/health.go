// Package server exposes liveness and readiness probes for the monitor daemon.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"

	"github.com/texitpay/paygate/internal/logger"
)

// PingFunc checks a dependency is reachable
type PingFunc func(ctx context.Context) error

// CycleReporter reports when the reconciliation loop last finished a cycle
type CycleReporter interface {
	LastCycleAt() time.Time
}

// Health serves /healthz and /readyz
type Health struct {
	ping       PingFunc
	cycles     CycleReporter
	staleAfter time.Duration
	clk        clock.Clock
	started    time.Time
}

// NewHealth creates the probe handlers. The daemon is ready once the
// database answers and a cycle finished within staleAfter (0 disables the
// cycle check).
func NewHealth(ping PingFunc, cycles CycleReporter, staleAfter time.Duration, clk clock.Clock) *Health {
	if clk == nil {
		clk = clock.New()
	}
	return &Health{
		ping:       ping,
		cycles:     cycles,
		staleAfter: staleAfter,
		clk:        clk,
		started:    clk.Now(),
	}
}

// Healthz is the liveness probe
func (h *Health) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
		"uptime": h.clk.Now().Sub(h.started).String(),
	})
}

// Readyz is the readiness probe
func (h *Health) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			logger.Warn("Readiness check failed", logger.Fields{"check": "database", "error": err.Error()})
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"type":    "readiness",
				"message": "database unreachable",
				"error":   err.Error(),
			})
			return
		}
	}

	body := gin.H{"status": "ready", "type": "readiness"}
	if h.cycles != nil {
		last := h.cycles.LastCycleAt()
		if last.IsZero() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"type":    "readiness",
				"message": "no reconciliation cycle finished yet",
			})
			return
		}
		age := h.clk.Now().Sub(last)
		if h.staleAfter > 0 && age > h.staleAfter {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "not ready",
				"type":       "readiness",
				"message":    "reconciliation loop stalled",
				"last_cycle": last.UTC(),
			})
			return
		}
		body["last_cycle"] = last.UTC()
	}
	c.JSON(http.StatusOK, body)
}

// NewRouter registers the probes on a gin engine
func NewRouter(h *Health) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	return r
}

// Server is the daemon's probe listener
type Server struct {
	srv *http.Server
}

// New creates a probe server on addr
func New(addr string, h *Health) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	go func() {
		logger.Info("Health server listening", logger.Fields{"addr": s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed", logger.Fields{"error": err.Error()})
		}
	}()
}

// Shutdown stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
