package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pathledger/internal/config"
	"pathledger/internal/domain"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log *slog.Logger

	ingest        GatewayIngester
	verify        EventVerifier
	events        EventReader
	notifications NotificationLister
	registry      RegistryWriter
	health        func(ctx context.Context) error
	metrics       http.Handler

	gatewayKeys [][]byte
	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Ingest        GatewayIngester
	Verify        EventVerifier
	Events        EventReader
	Notifications NotificationLister
	Registry      RegistryWriter
	Health        func(ctx context.Context) error
	Metrics       http.Handler
	RateLimiter   domain.RateLimiter
	Logger        *slog.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		r:             r,
		log:           deps.Logger,
		ingest:        deps.Ingest,
		verify:        deps.Verify,
		events:        deps.Events,
		notifications: deps.Notifications,
		registry:      deps.Registry,
		health:        deps.Health,
		metrics:       deps.Metrics,
		adminAPIKey:   cfg.AdminAPIKey,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	for _, key := range cfg.GatewayAPIKeys {
		s.gatewayKeys = append(s.gatewayKeys, []byte(key))
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.r.POST("/telemetry/gateway", s.handleGatewayTelemetry)

	s.r.POST("/events/verify-block-hashes", s.handleVerifyBatch)
	s.r.GET("/tracker-events", s.handleListEvents(domain.EventKindTracker, "tracker"))
	s.r.GET("/tracker-events/:id", s.handleGetEvent(domain.EventKindTracker))
	s.r.GET("/tracker-events/:id/product-events", s.handleListDerived)
	s.r.POST("/tracker-events/:id/verify", s.handleVerifyEvent(domain.EventKindTracker))
	s.r.GET("/product-events", s.handleListEvents(domain.EventKindProduct, "product"))
	s.r.GET("/product-events/:id", s.handleGetEvent(domain.EventKindProduct))
	s.r.POST("/product-events/:id/verify", s.handleVerifyEvent(domain.EventKindProduct))
	s.r.GET("/notifications", s.handleListNotifications)

	admin := s.r.Group("/admin", s.requireAdmin)
	{
		admin.POST("/gateways", s.handleAdminGateway)
		admin.POST("/trackers", s.handleAdminTracker)
		admin.POST("/products", s.handleAdminProduct)
		admin.POST("/orders", s.handleAdminOrder)
		admin.POST("/orders/:number/trackers", s.handleAdminAssignTracker)
		admin.POST("/orders/:number/statuses", s.handleAdminOrderStatus)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
