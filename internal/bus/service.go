package bus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/samcharles93/hearth/internal/completion"
	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/prompt"
)

const queueGroup = "hearth"

// Request asks for one completion. Messages selects chat; otherwise Prompt
// is completed as raw text.
type Request struct {
	RequestID     string           `json:"requestId,omitempty"`
	System        string           `json:"system,omitempty"`
	Messages      []prompt.Message `json:"messages,omitempty"`
	Prompt        string           `json:"prompt,omitempty"`
	MaxTokens     int              `json:"maxTokens,omitempty"`
	StopSequences []string         `json:"stopSequences,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
}

// Response is published for every partial piece and once at the end.
type Response struct {
	RequestID       string    `json:"requestId"`
	Content         string    `json:"content"`
	Partial         bool      `json:"partial"`
	Error           string    `json:"error,omitempty"`
	FinishReason    string    `json:"finishReason,omitempty"`
	TokensGenerated int       `json:"tokensGenerated,omitempty"`
	LatencyMS       int64     `json:"latencyMs"`
	Timestamp       time.Time `json:"timestamp"`
}

// Completer is the part of completion.Adapter the service needs.
type Completer interface {
	StreamChat(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) iter.Seq2[string, error]
	CompleteChatResult(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) (completion.Result, error)
	StreamText(ctx context.Context, raw string, cfg inference.GenerationConfig) iter.Seq2[string, error]
	CompleteTextResult(ctx context.Context, raw string, cfg inference.GenerationConfig) (completion.Result, error)
}

// Subjects derives the subject names from a prefix.
type Subjects struct {
	Request string
	Partial string
	Final   string
}

func SubjectsFor(prefix string) Subjects {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	return Subjects{
		Request: prefix + ".request",
		Partial: prefix + ".partial",
		Final:   prefix + ".final",
	}
}

// Service answers completion requests. Partial pieces go to the partial
// subject; the final response goes to the final subject and, when the
// request carried a reply inbox, to that inbox too.
type Service struct {
	cfg      config.BusConfig
	client   *Client
	complete Completer
	subjects Subjects
	log      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    *nats.Subscription

	mu      sync.Mutex
	closing bool
}

func NewService(parent context.Context, cfg config.BusConfig, client *Client, c Completer, log logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		client:   client,
		complete: c,
		subjects: SubjectsFor(cfg.SubjectPrefix),
		log:      log.With("component", "bus-service"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Subjects() Subjects {
	return s.subjects
}

func (s *Service) Start() error {
	sub, err := s.client.Conn().QueueSubscribe(s.subjects.Request, queueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe completion requests: %w", err)
	}
	s.sub = sub
	s.log.Info("listening for completion requests", "subject", s.subjects.Request)
	return nil
}

// Close stops accepting requests, cancels in-flight generations and waits
// for them to finish.
func (s *Service) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid() && s.client.Healthy()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	// Callbacks may still be running after Unsubscribe.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode completion request", logger.Err(err))
		s.finish(msg, Response{RequestID: uuid.NewString(), Error: "invalid request: " + err.Error()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if len(req.Messages) == 0 && strings.TrimSpace(req.Prompt) == "" {
		s.finish(msg, Response{RequestID: req.RequestID, Error: "messages or prompt is required"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		s.run(ctx, msg, req)
	}()
}

func (s *Service) run(ctx context.Context, msg *nats.Msg, req Request) {
	start := time.Now()
	cfg := inference.GenerationConfig{MaxTokens: req.MaxTokens, StopSequences: req.StopSequences}
	chat := len(req.Messages) > 0
	conv := prompt.FromMessages(req.System, req.Messages)

	final := Response{RequestID: req.RequestID}
	if req.Stream {
		var seq iter.Seq2[string, error]
		if chat {
			seq = s.complete.StreamChat(ctx, conv, cfg)
		} else {
			seq = s.complete.StreamText(ctx, req.Prompt, cfg)
		}
		var b strings.Builder
		for piece, err := range seq {
			if err != nil {
				final.Error = err.Error()
				break
			}
			b.WriteString(piece)
			s.publish(s.subjects.Partial, Response{
				RequestID: req.RequestID,
				Content:   piece,
				Partial:   true,
				LatencyMS: time.Since(start).Milliseconds(),
				Timestamp: time.Now().UTC(),
			})
		}
		final.Content = b.String()
	} else {
		var (
			res completion.Result
			err error
		)
		if chat {
			res, err = s.complete.CompleteChatResult(ctx, conv, cfg)
		} else {
			res, err = s.complete.CompleteTextResult(ctx, req.Prompt, cfg)
		}
		if err != nil {
			final.Error = err.Error()
		}
		final.Content = res.Text
		final.FinishReason = string(res.Stats.FinishReason)
		final.TokensGenerated = res.Stats.TokensGenerated
	}

	final.LatencyMS = time.Since(start).Milliseconds()
	if final.Error != "" {
		s.log.Warn("bus completion failed", "request_id", req.RequestID, "error", final.Error)
	} else {
		s.log.Info("bus completion complete", "request_id", req.RequestID, "latency", time.Since(start))
	}
	s.finish(msg, final)
}

func (s *Service) finish(msg *nats.Msg, resp Response) {
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}
	s.publish(s.subjects.Final, resp)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("failed to encode reply", logger.Err(err))
		return
	}
	if err := msg.Respond(data); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.log.Warn("failed to reply", logger.Err(err))
	}
}

func (s *Service) publish(subject string, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("failed to encode response", logger.Err(err))
		return
	}
	if err := s.client.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish response", "subject", subject, logger.Err(err))
	}
}
