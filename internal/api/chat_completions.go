package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/prompt"
)

// ChatCompletionRequest represents an OpenAI-compatible chat completion request.
// Sampling fields are accepted for compatibility; the backend samples with
// its own defaults.
type ChatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	Temperature         *float64      `json:"temperature,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
	Stream              *bool         `json:"stream,omitempty"`
	Stop                any           `json:"stop,omitempty"`
	MaxTokens           *int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	User                string        `json:"user,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role,omitempty"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatCompletionResponse is the response for non-streaming chat completions.
type ChatCompletionResponse struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	Choices           []ChatChoice `json:"choices"`
	Usage             ChatUsage    `json:"usage"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
}

type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is a streaming SSE chunk.
type ChatCompletionChunk struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	Choices           []ChatChoice `json:"choices"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
}

type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) RegisterChatCompletions(e *echo.Echo) {
	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleListModels)
}

func (s *Server) handleListModels(c *echo.Context) error {
	info, err := s.complete.Info()
	if err != nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data": []ModelObject{{
			ID:      modelID(info),
			Object:  "model",
			Created: s.clock().Unix(),
			OwnedBy: "local",
		}},
	})
}

func (s *Server) handleChatCompletions(c *echo.Context) error {
	req, err := decodeJSON[ChatCompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Messages) == 0 {
		return writeBadRequest(c, "messages is required and must not be empty")
	}

	msgs, err := chatMessagesToPromptMessages(req.Messages)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	stops, err := stopSequences(req.Stop)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	cfg := inference.GenerationConfig{
		MaxTokens:     s.gen.RequestMaxTokens,
		StopSequences: stops,
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	if req.MaxCompletionTokens != nil {
		cfg.MaxTokens = *req.MaxCompletionTokens
	}
	conv := prompt.FromMessages("", msgs)

	completionID := "chatcmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := req.Model
	if model == "" {
		if info, err := s.complete.Info(); err == nil {
			model = modelID(info)
		}
	}

	if req.Stream != nil && *req.Stream {
		return s.handleChatCompletionsStream(c, conv, cfg, completionID, created, model)
	}
	return s.handleChatCompletionsSync(c, conv, cfg, completionID, created, model)
}

func (s *Server) handleChatCompletionsSync(c *echo.Context, conv prompt.Conversation, cfg inference.GenerationConfig, completionID string, created int64, model string) error {
	ctx := c.Request().Context()
	result, err := s.complete.CompleteChatResult(ctx, conv, cfg)
	if err != nil {
		s.log.Warn("chat completion failed", "id", completionID, logger.Err(err))
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	finishReason := openAIFinishReason(result.Stats.FinishReason)
	resp := ChatCompletionResponse{
		ID:      completionID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: result.Text,
				},
				FinishReason: &finishReason,
			},
		},
		Usage: ChatUsage{
			CompletionTokens: result.Stats.TokensGenerated,
			TotalTokens:      result.Stats.TokensGenerated,
		},
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatCompletionsStream(c *echo.Context, conv prompt.Conversation, cfg inference.GenerationConfig, completionID string, created int64, model string) error {
	sw, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	chunk := func(delta *ChatMessage, finish *string) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChatChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	// Send initial chunk with role
	if err := sw.Data(chunk(&ChatMessage{Role: "assistant"}, nil)); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for piece, err := range s.complete.StreamChat(ctx, conv, cfg) {
		if err != nil {
			s.log.Warn("chat completion stream failed", "id", completionID, logger.Err(err))
			// Best effort error chunk
			_ = sw.Data(map[string]any{"error": ResponseError{Message: err.Error(), Type: "server_error"}})
			break
		}
		if err := sw.Data(chunk(&ChatMessage{Content: piece}, nil)); err != nil {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	finishReason := "stop"
	_ = sw.Data(chunk(&ChatMessage{}, &finishReason))
	_ = sw.Terminate()
	return nil
}

func openAIFinishReason(r inference.FinishReason) string {
	if r == inference.FinishLength {
		return "length"
	}
	return "stop"
}

func chatMessagesToPromptMessages(msgs []ChatMessage) ([]prompt.Message, error) {
	out := make([]prompt.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := prompt.Message{Role: m.Role}

		switch content := m.Content.(type) {
		case string:
			msg.Content = content
		case nil:
			msg.Content = ""
		case []any:
			// Multi-part content; only text parts reach the model.
			var textParts []string
			for _, part := range content {
				pm, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if typ, _ := pm["type"].(string); typ == "text" {
					if text, ok := pm["text"].(string); ok {
						textParts = append(textParts, text)
					}
				}
			}
			msg.Content = strings.Join(textParts, "\n")
		default:
			b, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("message content: unsupported type")
			}
			msg.Content = string(b)
		}

		out = append(out, msg)
	}
	return out, nil
}

// stopSequences accepts the OpenAI stop field: a string or a list of strings.
func stopSequences(v any) ([]string, error) {
	switch stop := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{stop}, nil
	case []any:
		out := make([]string, 0, len(stop))
		for _, item := range stop {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("stop: expected string or array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("stop: expected string or array of strings")
	}
}
