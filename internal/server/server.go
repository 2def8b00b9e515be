// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ragchat/config"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

// Service is the part of the orchestrator the HTTP layer drives.
type Service interface {
	Ask(ctx context.Context, sessionID, question string) (domain.Answer, error)
	Health() domain.Health
	History(sessionID string) ([]domain.Turn, error)
	Rebuild(ctx context.Context) (*usecase.IndexResult, error)
	Shutdown(ctx context.Context) error
}

// Server provides the chat API.
type Server struct {
	echo   *echo.Echo
	svc    Service
	logger *zap.Logger
	config config.ServerConfig
}

// New creates a server. A nil gatherer disables /metrics.
func New(cfg config.ServerConfig, svc Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		}))
	}
	e.Use(requestLogger(logger))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeout(cfg.RequestTimeout))
	}

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes(gatherer)
	return s
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/sessions/:id/history", s.handleHistory)
	api.POST("/index/rebuild", s.handleRebuild)
}

// ChatRequest is the body of POST /api/chat. Message and Question are
// synonyms; Message wins when both are set.
type ChatRequest struct {
	Message   string `json:"message"`
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

// HistoryResponse is the body of GET /api/sessions/:id/history.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []domain.Turn `json:"turns"`
}

// RebuildResponse is the body of POST /api/index/rebuild.
type RebuildResponse struct {
	Documents  int     `json:"documents"`
	Entries    int     `json:"entries"`
	DurationMS float64 `json:"duration_ms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.svc.Health()
	code := http.StatusOK
	if !h.Ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, h)
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	question := req.Message
	if question == "" {
		question = req.Question
	}
	sessionID := req.SessionID
	if sessionID == "" && s.config.IssueSessionIDs {
		sessionID = uuid.NewString()
	}

	answer, err := s.svc.Ask(c.Request().Context(), sessionID, question)
	if err != nil {
		return c.JSON(StatusFor(err), answer)
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) handleHistory(c echo.Context) error {
	id := c.Param("id")
	turns, err := s.svc.History(id)
	if err != nil {
		return echo.NewHTTPError(StatusFor(err), err.Error())
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{SessionID: id, Turns: turns})
}

func (s *Server) handleRebuild(c echo.Context) error {
	res, err := s.svc.Rebuild(c.Request().Context())
	if err != nil {
		s.logger.Warn("rebuild request failed", zap.Error(err))
		return echo.NewHTTPError(StatusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, RebuildResponse{
		Documents:  res.Documents,
		Entries:    res.Entries,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	})
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRebuildInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrEmbedding), errors.Is(err, domain.ErrCompletion):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down the HTTP server
// followed by the service.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.Addr()))
		if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the HTTP server and then the service.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	httpErr := s.echo.Shutdown(ctx)
	svcErr := s.svc.Shutdown(ctx)
	return errors.Join(httpErr, svcErr)
}
