// Package api serves completions over HTTP: the /api/ai endpoints with their
// JSON envelope and an OpenAI-compatible chat completions surface.
package api

import (
	"context"
	"iter"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/samcharles93/hearth/internal/completion"
	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/model"
	"github.com/samcharles93/hearth/internal/prompt"
)

// Completer is the part of completion.Adapter the server needs.
type Completer interface {
	Info() (model.Info, error)
	StreamChat(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) iter.Seq2[string, error]
	CompleteChat(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) (prompt.Turn, error)
	CompleteChatResult(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) (completion.Result, error)
	StreamText(ctx context.Context, raw string, cfg inference.GenerationConfig) iter.Seq2[string, error]
	CompleteText(ctx context.Context, raw string, cfg inference.GenerationConfig) (string, error)
}

// HealthFunc reports an unhealthy dependency, or nil.
type HealthFunc func() error

type Options struct {
	Generation config.GenerationConfig
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
	// Health is consulted by /healthz in addition to the model.
	Health HealthFunc
	Logger logger.Logger
}

type Server struct {
	complete Completer
	gen      config.GenerationConfig
	metrics  http.Handler
	health   HealthFunc
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(complete Completer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Generation.RequestMaxTokens <= 0 {
		opts.Generation.RequestMaxTokens = config.Default().Generation.RequestMaxTokens
	}
	return &Server{
		complete: complete,
		gen:      opts.Generation,
		metrics:  opts.Metrics,
		health:   opts.Health,
		log:      opts.Logger.With("component", "http"),
		clock:    time.Now,
	}
}

// Echo returns an echo instance with the middleware and routes installed.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = errorHandler(s.log)
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	s.Register(e)
	return e
}

func (s *Server) Register(e *echo.Echo) {
	ai := e.Group("/api/ai", echo.WrapMiddleware(WrapResponses))
	ai.POST("/ask", s.handleAsk)
	ai.POST("/ask-sync", s.handleAskSync)
	ai.POST("/chat/complete", s.handleChatComplete)
	ai.POST("/chat/stream", s.handleChatStream)
	ai.POST("/text/stream", s.handleTextStream)
	ai.GET("/model", s.handleModel)

	// Chat Completions API (OpenAI-compatible)
	s.RegisterChatCompletions(e)

	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if _, err := s.complete.Info(); err != nil {
		status["status"], status["model"] = "unavailable", err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.health != nil {
		if err := s.health(); err != nil {
			status["status"], status["dependency"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

// modelID names the loaded model for OpenAI-style listings.
func modelID(info model.Info) string {
	if info.Name != "" {
		return info.Name
	}
	return strings.TrimSuffix(filepath.Base(info.Path), filepath.Ext(info.Path))
}
