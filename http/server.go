// Package http serves a facilitator over the x402 HTTP API and provides a
// client for that API.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nacorid/x402-facilitator/encoding"
	"github.com/nacorid/x402-facilitator/facilitator"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server exposes a facilitator.Interface over HTTP.
type Server struct {
	facilitator facilitator.Interface
	logger      *slog.Logger
	debug       bool
	engine      *gin.Engine
}

type ServerOption func(*Server)

// WithServerLogger sets the logger used for request logs.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDebug runs gin in debug mode.
func WithDebug(debug bool) ServerOption {
	return func(s *Server) {
		s.debug = debug
	}
}

// NewServer builds the router for fac:
//
//	POST /verify     verify a payment
//	POST /settle     verify and settle a payment
//	GET  /supported  list supported kinds and signers
//	GET  /healthz    liveness
func NewServer(fac facilitator.Interface, opts ...ServerOption) *Server {
	s := &Server{
		facilitator: fac,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/supported", s.handleSupported)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine = r

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("facilitator listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP())
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	var req facilitator.VerifyRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.logger.Error("verify failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req facilitator.SettleRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.logger.Error("settle failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if header, err := encoding.EncodeSettlement(*resp); err == nil {
		c.Header(encoding.PaymentResponseHeader, header)
	} else {
		s.logger.Warn("failed to encode settlement header", "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSupported(c *gin.Context) {
	resp, err := s.facilitator.Supported(c.Request.Context())
	if err != nil {
		s.logger.Error("supported failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// request is a decoded verify or settle body.
type request interface {
	Validate() error
}

// bind decodes the JSON body into req and checks its envelope. It writes a 400
// and returns false when the body is not a usable request.
func (s *Server) bind(c *gin.Context, req request) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.logger.Warn("malformed request body", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return false
	}
	if err := req.Validate(); err != nil {
		s.logger.Warn("invalid request", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
