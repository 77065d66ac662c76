// Package webserver exposes vote casting, tally reads, health and metrics over HTTP.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRateLimit  = 30
	defaultRateWindow = time.Minute
	shutdownTimeout   = 10 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Addr        string
	JWTSecret   string
	CORSOrigins []string
	// RateLimit bounds vote submissions per voter within RateWindow.
	RateLimit  int
	RateWindow time.Duration
	Debug      bool
}

// Server serves the API and implements core.Module.
type Server struct {
	cfg     Config
	engine  *gin.Engine
	limiter *RateLimiter
	srv     *http.Server
	stop    chan struct{}
	log     *zap.Logger
}

// New builds the router. metricsHandler may be nil.
func New(cfg Config, ballot Ballot, archive Archive, metricsHandler http.Handler, log *zap.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("webserver: jwt secret is required")
	}
	if ballot == nil {
		return nil, errors.New("webserver: ballot is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		log:     log.Named("api"),
	}
	s.engine.Use(requestLogger(s.log), gin.Recovery())
	s.attachRoutes(NewVotes(ballot, archive, s.log), metricsHandler)
	return s, nil
}

func (s *Server) attachRoutes(voteH Votes, metricsHandler http.Handler) {
	r := s.engine
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/votes/:thread", voteH.Summary)

		secured := v1.Group("")
		secured.Use(JWTMiddleware([]byte(s.cfg.JWTSecret)), RateLimitMiddleware(s.limiter))
		secured.POST("/votes", voteH.Cast)
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Name implements core.Module.
func (s *Server) Name() string { return "api" }

// Start binds the listener and serves in the background.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webserver: listen on %s: %w", s.cfg.Addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.stop = make(chan struct{})
	go s.limiter.run(s.stop)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped", zap.Error(err))
		}
	}()
	s.log.Info("api listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	close(s.stop)
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("shutdown incomplete", zap.Error(err))
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
