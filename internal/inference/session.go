package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/model"
)

// FinishReason says why a generation ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishEOG       FinishReason = "eog"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// Stats summarizes a finished run.
type Stats struct {
	PromptChars     int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
	FinishReason    FinishReason
}

// Session is one generation. It is created per call, never shared, and can
// be ranged over only once.
type Session struct {
	res     *model.Resource
	log     logger.Logger
	special bool
	used    atomic.Bool

	mu    sync.Mutex
	stats Stats
}

type SessionOption func(*Session)

func WithLogger(l logger.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSpecialTokens makes control-token text in the prompt, such as the
// chat template's turn markers, evaluate as control tokens. Without it the
// prompt is plain text.
func WithSpecialTokens(on bool) SessionOption {
	return func(s *Session) { s.special = on }
}

func NewSession(res *model.Resource, opts ...SessionOption) *Session {
	s := &Session{res: res, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the figures of the last run. It is only meaningful once the
// sequence returned by Run has been fully ranged or abandoned.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run returns the generated text for prompt as a lazy sequence of pieces.
// Nothing happens until the caller ranges over it: the first pull leases a
// context, resets it and evaluates the prompt. Breaking out of the range
// releases the lease.
//
// Cancellation of ctx ends the sequence without an error. A native failure
// yields one *InferenceError and ends the sequence.
func (s *Session) Run(ctx context.Context, prompt string, cfg GenerationConfig) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield("", ErrSessionConsumed)
			return
		}

		start := time.Now()
		st := Stats{PromptChars: utf8.RuneCountInString(prompt)}
		defer func() {
			st.Duration = time.Since(start)
			if secs := st.Duration.Seconds(); secs > 0 {
				st.TPS = float64(st.TokensGenerated) / secs
			}
			s.mu.Lock()
			s.stats = st
			s.mu.Unlock()
			s.log.Debug("generation finished",
				"tokens", st.TokensGenerated,
				"finish", string(st.FinishReason),
				"duration", st.Duration,
			)
		}()

		fail := func(op string, err error) {
			st.FinishReason = FinishError
			yield("", inferenceErr(op, err))
		}

		if s.res == nil {
			fail("acquire", errors.New("no model resource"))
			return
		}
		lease, err := s.res.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				st.FinishReason = FinishCancelled
				return
			}
			fail("acquire", err)
			return
		}
		defer lease.Release()
		c := lease.Context()

		if err := safeCall("reset", c.Reset); err != nil {
			fail("reset", err)
			return
		}
		if ctx.Err() != nil {
			st.FinishReason = FinishCancelled
			return
		}
		if err := safeCall("eval", func() error { return c.Eval(prompt, s.special) }); err != nil {
			fail("eval", err)
			return
		}

		stop := NewStopMatcher(cfg.StopSequences)
		finish := func(reason FinishReason) {
			st.FinishReason = reason
			if rest := stop.Flush(); rest != "" {
				yield(rest, nil)
			}
		}

		for {
			if cfg.MaxTokens > 0 && st.TokensGenerated >= cfg.MaxTokens {
				finish(FinishLength)
				return
			}
			if ctx.Err() != nil {
				finish(FinishCancelled)
				return
			}

			piece, eog, err := safeNext(c)
			if err != nil {
				fail("decode", err)
				return
			}
			if eog {
				finish(FinishEOG)
				return
			}
			st.TokensGenerated++

			emit, stopped := stop.Push(piece)
			if emit != "" && !yield(emit, nil) {
				st.FinishReason = FinishCancelled
				return
			}
			if stopped {
				st.FinishReason = FinishStop
				return
			}
		}
	}
}

func safeCall(op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", op, rec)
		}
	}()
	return fn()
}

func safeNext(c model.Context) (piece string, eog bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			piece, eog, err = "", false, fmt.Errorf("panic in next: %v", rec)
		}
	}()
	return c.Next()
}
