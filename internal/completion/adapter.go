// Package completion is the facade callers use to run chat and raw text
// completions, streaming or blocking, against the loaded model.
package completion

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/model"
	"github.com/samcharles93/hearth/internal/prompt"
)

const (
	DefaultWaitTimeout = 5 * time.Minute

	instrumentationName = "github.com/samcharles93/hearth/internal/completion"
)

// ErrWaitTimeout is returned by the blocking forms when generation does not
// finish within the wait timeout. The generation is cancelled.
var ErrWaitTimeout = errors.New("completion: timed out waiting for generation")

// ResourceProvider hands out the loaded model. *model.Registry satisfies it.
type ResourceProvider interface {
	Resource() (*model.Resource, error)
}

// Result is a finished completion with its run statistics.
type Result struct {
	Text  string
	Stats inference.Stats
}

type Adapter struct {
	res          ResourceProvider
	log          logger.Logger
	wait         time.Duration
	chatDefaults inference.GenerationConfig
	textDefaults inference.GenerationConfig

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	requests       metric.Int64Counter
	tokens         metric.Int64Counter
	duration       metric.Float64Histogram
}

type Option func(*Adapter)

// WithWaitTimeout bounds the blocking forms. Values <= 0 keep the default.
func WithWaitTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.wait = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithChatDefaults replaces the values used for chat requests that leave
// MaxTokens or StopSequences empty.
func WithChatDefaults(cfg inference.GenerationConfig) Option {
	return func(a *Adapter) { a.chatDefaults = cfg }
}

// WithTextDefaults is WithChatDefaults for raw text requests.
func WithTextDefaults(cfg inference.GenerationConfig) Option {
	return func(a *Adapter) { a.textDefaults = cfg }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *Adapter) { a.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Adapter) { a.tracerProvider = tp }
}

func New(res ResourceProvider, opts ...Option) *Adapter {
	a := &Adapter{
		res:          res,
		log:          logger.Discard(),
		wait:         DefaultWaitTimeout,
		chatDefaults: inference.ChatDefaults(),
		textDefaults: inference.GenerationConfig{MaxTokens: inference.DefaultMaxTokens},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "completion")
	if a.meterProvider == nil {
		a.meterProvider = otel.GetMeterProvider()
	}
	if a.tracerProvider == nil {
		a.tracerProvider = otel.GetTracerProvider()
	}
	a.tracer = a.tracerProvider.Tracer(instrumentationName)
	a.initInstruments(a.meterProvider.Meter(instrumentationName))
	return a
}

func (a *Adapter) initInstruments(meter metric.Meter) {
	var err error
	if a.requests, err = meter.Int64Counter("hearth.completion.requests",
		metric.WithDescription("Completions run, by kind, mode and outcome")); err != nil {
		a.log.Warn("create requests counter", logger.Err(err))
	}
	if a.tokens, err = meter.Int64Counter("hearth.completion.tokens",
		metric.WithDescription("Tokens generated"),
		metric.WithUnit("{token}")); err != nil {
		a.log.Warn("create tokens counter", logger.Err(err))
	}
	if a.duration, err = meter.Float64Histogram("hearth.completion.duration",
		metric.WithDescription("Generation wall time"),
		metric.WithUnit("s")); err != nil {
		a.log.Warn("create duration histogram", logger.Err(err))
	}
}

// Info describes the loaded model.
func (a *Adapter) Info() (model.Info, error) {
	res, err := a.res.Resource()
	if err != nil {
		return model.Info{}, err
	}
	return res.Info(), nil
}

// StreamChat renders conv with the chat template and streams the reply.
func (a *Adapter) StreamChat(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) iter.Seq2[string, error] {
	return a.generate(ctx, "chat", "stream", prompt.BuildChat(conv), cfg.WithDefaults(a.chatDefaults), nil)
}

// CompleteChat returns the whole assistant reply to conv.
func (a *Adapter) CompleteChat(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) (prompt.Turn, error) {
	r, err := a.CompleteChatResult(ctx, conv, cfg)
	if err != nil {
		return prompt.Turn{}, err
	}
	return prompt.Turn{Role: prompt.RoleAssistant, Content: r.Text}, nil
}

func (a *Adapter) CompleteChatResult(ctx context.Context, conv prompt.Conversation, cfg inference.GenerationConfig) (Result, error) {
	return a.drain(ctx, "chat", prompt.BuildChat(conv), cfg.WithDefaults(a.chatDefaults))
}

// StreamText streams a completion of raw, which is passed to the model
// without a template.
func (a *Adapter) StreamText(ctx context.Context, raw string, cfg inference.GenerationConfig) iter.Seq2[string, error] {
	return a.generate(ctx, "text", "stream", prompt.BuildText(raw), cfg.WithDefaults(a.textDefaults), nil)
}

func (a *Adapter) CompleteText(ctx context.Context, raw string, cfg inference.GenerationConfig) (string, error) {
	r, err := a.CompleteTextResult(ctx, raw, cfg)
	if err != nil {
		return "", err
	}
	return r.Text, nil
}

func (a *Adapter) CompleteTextResult(ctx context.Context, raw string, cfg inference.GenerationConfig) (Result, error) {
	return a.drain(ctx, "text", prompt.BuildText(raw), cfg.WithDefaults(a.textDefaults))
}

// drain runs the stream on a worker goroutine and waits for it at most
// a.wait. The blocking result is the concatenation of the streamed pieces.
// Caller cancellation is not an error: the text produced so far is
// returned and Stats.FinishReason is FinishCancelled.
func (a *Adapter) drain(ctx context.Context, kind, text string, cfg inference.GenerationConfig) (Result, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var (
			b     strings.Builder
			stats inference.Stats
		)
		for piece, err := range a.generate(wctx, kind, "blocking", text, cfg, &stats) {
			if err != nil {
				done <- outcome{err: err}
				return
			}
			b.WriteString(piece)
		}
		done <- outcome{res: Result{Text: b.String(), Stats: stats}}
	}()

	timer := time.NewTimer(a.wait)
	defer timer.Stop()
	select {
	case o := <-done:
		return o.res, o.err
	case <-timer.C:
		cancel()
		a.log.Warn("generation timed out", "kind", kind, "wait", a.wait)
		return Result{}, ErrWaitTimeout
	}
}

// generate is the single streaming primitive every operation is built on.
// The returned sequence may be ranged once; stats, when non-nil, receives
// the session figures after the sequence ends.
func (a *Adapter) generate(ctx context.Context, kind, mode, text string, cfg inference.GenerationConfig, stats *inference.Stats) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", inference.ErrSessionConsumed)
			return
		}

		attrs := []attribute.KeyValue{
			attribute.String("kind", kind),
			attribute.String("mode", mode),
		}
		ctx, span := a.tracer.Start(ctx, "completion."+kind, trace.WithAttributes(attrs...))
		defer span.End()

		res, err := a.res.Resource()
		if err != nil {
			a.finish(ctx, span, attrs, inference.Stats{FinishReason: inference.FinishError}, err)
			yield("", err)
			return
		}

		// Only templated chat prompts carry control tokens; raw text is literal.
		s := inference.NewSession(res,
			inference.WithLogger(a.log),
			inference.WithSpecialTokens(kind == "chat"),
		)
		var failed error
		for piece, err := range s.Run(ctx, text, cfg) {
			if err != nil {
				failed = err
				yield("", err)
				break
			}
			if !yield(piece, nil) {
				break
			}
		}

		st := s.Stats()
		if stats != nil {
			*stats = st
		}
		a.finish(ctx, span, attrs, st, failed)
	}
}

func (a *Adapter) finish(ctx context.Context, span trace.Span, attrs []attribute.KeyValue, st inference.Stats, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Warn("completion failed", logger.Err(err))
	case st.FinishReason == inference.FinishCancelled:
		outcome = "cancelled"
	}
	span.SetAttributes(
		attribute.Int("tokens", st.TokensGenerated),
		attribute.String("finish_reason", string(st.FinishReason)),
	)

	all := append(attrs[:len(attrs):len(attrs)], attribute.String("outcome", outcome))
	if a.requests != nil {
		a.requests.Add(ctx, 1, metric.WithAttributes(all...))
	}
	if a.tokens != nil && st.TokensGenerated > 0 {
		a.tokens.Add(ctx, int64(st.TokensGenerated), metric.WithAttributes(attrs...))
	}
	if a.duration != nil && st.Duration > 0 {
		a.duration.Record(ctx, st.Duration.Seconds(), metric.WithAttributes(attrs...))
	}
}
