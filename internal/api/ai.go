package api

import (
	"context"
	"iter"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/prompt"
)

type AskRequest struct {
	Prompt string `json:"prompt"`
}

type ChatRequest struct {
	System        string           `json:"system,omitempty"`
	Messages      []prompt.Message `json:"messages"`
	MaxTokens     *int             `json:"maxTokens,omitempty"`
	StopSequences []string         `json:"stopSequences,omitempty"`
}

type TextRequest struct {
	Prompt        string   `json:"prompt"`
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

func (s *Server) handleAsk(c *echo.Context) error {
	return s.ask(c.Request().Context(), c)
}

// handleAskSync ignores client disconnects; only the completion wait
// timeout bounds it.
func (s *Server) handleAskSync(c *echo.Context) error {
	return s.ask(context.WithoutCancel(c.Request().Context()), c)
}

func (s *Server) ask(ctx context.Context, c *echo.Context) error {
	req, err := decodeJSON[AskRequest](c.Request().Body)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return newInvalidRequest("Prompt is required")
	}

	answer, err := s.complete.CompleteText(ctx, req.Prompt, s.askConfig())
	if err != nil {
		return wrapCompletion(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) askConfig() inference.GenerationConfig {
	stops := s.gen.AskStopSequences
	if len(stops) == 0 {
		stops = inference.AskStopSequences()
	}
	return inference.GenerationConfig{
		MaxTokens:     s.gen.TextMaxTokens,
		StopSequences: stops,
	}
}

func (s *Server) handleChatComplete(c *echo.Context) error {
	conv, cfg, err := s.decodeChat(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	reply, err := s.complete.CompleteChat(ctx, conv, cfg)
	if err != nil {
		return wrapCompletion(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reply.Content)
}

func (s *Server) handleChatStream(c *echo.Context) error {
	conv, cfg, err := s.decodeChat(c)
	if err != nil {
		return err
	}
	return s.stream(c, func(ctx context.Context) iter.Seq2[string, error] {
		return s.complete.StreamChat(ctx, conv, cfg)
	})
}

func (s *Server) handleTextStream(c *echo.Context) error {
	req, err := decodeJSON[TextRequest](c.Request().Body)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return newInvalidRequest("Prompt is required")
	}
	cfg := inference.GenerationConfig{StopSequences: req.StopSequences}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	return s.stream(c, func(ctx context.Context) iter.Seq2[string, error] {
		return s.complete.StreamText(ctx, req.Prompt, cfg)
	})
}

func (s *Server) handleModel(c *echo.Context) error {
	info, err := s.complete.Info()
	if err != nil {
		return wrapCompletion(err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) decodeChat(c *echo.Context) (prompt.Conversation, inference.GenerationConfig, error) {
	req, err := decodeJSON[ChatRequest](c.Request().Body)
	if err != nil {
		return nil, inference.GenerationConfig{}, err
	}
	if len(req.Messages) == 0 {
		return nil, inference.GenerationConfig{}, newInvalidRequest("Messages is required.")
	}
	cfg := inference.GenerationConfig{
		MaxTokens:     s.gen.RequestMaxTokens,
		StopSequences: req.StopSequences,
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	return prompt.FromMessages(req.System, req.Messages), cfg, nil
}

// stream relays fragments as SSE. Once the first byte is out, failures are
// reported in-band as an error event.
func (s *Server) stream(c *echo.Context, run func(ctx context.Context) iter.Seq2[string, error]) error {
	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	sw.Begin()

	for piece, err := range run(ctx) {
		if err != nil {
			s.log.Warn("stream failed", "path", c.Request().URL.Path, logger.Err(err))
			_ = sw.Failed(err)
			return nil
		}
		if err := sw.EmitToken(piece); err != nil {
			// Client went away; breaking out cancels generation.
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	_ = sw.Done()
	return nil
}
