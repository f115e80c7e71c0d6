package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/engine"
)

// Server exposes the HTTP and WebSocket surface over a running coordinator.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	coord  *engine.Coordinator
	http   *http.Server
}

// NewServer builds the gin router and binds it to the coordinator.
func NewServer(cfg config.ServerConfig, coord *engine.Coordinator, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		coord:  coord,
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	trends := router.Group("/trends")
	{
		trends.GET("", s.handleTrends)
		trends.GET("/anomalies", s.handleAnomalies)
		trends.GET("/stream", s.handleStream)
		trends.GET("/:key/temporal", s.handleTemporal)
	}
	return s
}

// Router exposes the handler for httptest servers.
func (s *Server) Router() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", slog.String("address", s.cfg.Address))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	grace := s.cfg.GracefulTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// The WebSocket upgrade hijacks the connection; its duration is the
		// stream lifetime, not a request latency.
		if c.IsWebsocket() {
			return
		}
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
