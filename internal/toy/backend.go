// Package toy is a scripted inference backend. It behaves like a native
// model from the connector's point of view (load, contexts, reset, eval,
// token-by-token output) but replays fixed pieces, which makes generation
// deterministic for tests and for dry runs without model weights.
package toy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/hearth/internal/gguf"
	"github.com/samcharles93/hearth/internal/model"
)

var ErrNotEvaluated = errors.New("toy: no prompt evaluated")

// Backend is a model.Backend that replays scripted pieces.
type Backend struct {
	// Replies maps an exact prompt to the pieces generated for it.
	Replies map[string][]string
	// Default is used for prompts missing from Replies. When it is nil the
	// prompt's last non-empty line is echoed word by word.
	Default []string

	LoadErr    error
	ContextErr error
	EvalErr    error
	// FailAt makes Next fail when asked for the piece at this index (1-based).
	FailAt  int
	FailErr error
	// PanicAt makes Next panic instead, at the same kind of index.
	PanicAt int

	// Delay is slept before every piece.
	Delay time.Duration
	// OnNext is called with the 1-based index of each piece request.
	OnNext func(n int)

	loads          atomic.Int64
	weightsClosed  atomic.Int64
	contextsOpened atomic.Int64
	contextsClosed atomic.Int64
	resets         atomic.Int64
	evals          atomic.Int64
	overlaps       atomic.Int64

	mu         sync.Mutex
	lastParams model.ContextParams
	prompts    []string
	special    []bool
}

// New returns a backend whose every prompt produces pieces.
func New(pieces ...string) *Backend {
	return &Backend{Default: pieces}
}

func (b *Backend) Name() string { return "toy" }

func (b *Backend) LoadWeights(path string, p model.WeightsParams) (model.Weights, error) {
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	b.loads.Add(1)
	return &weights{b: b, path: path, gpu: p.GPULayers}, nil
}

// Stats is a snapshot of backend activity.
type Stats struct {
	Loads          int64
	WeightsClosed  int64
	ContextsOpened int64
	ContextsClosed int64
	Resets         int64
	Evals          int64
	// Overlaps counts calls that entered a context already in use by
	// another goroutine. It must stay zero.
	Overlaps int64
}

func (b *Backend) Stats() Stats {
	return Stats{
		Loads:          b.loads.Load(),
		WeightsClosed:  b.weightsClosed.Load(),
		ContextsOpened: b.contextsOpened.Load(),
		ContextsClosed: b.contextsClosed.Load(),
		Resets:         b.resets.Load(),
		Evals:          b.evals.Load(),
		Overlaps:       b.overlaps.Load(),
	}
}

// Prompts returns every prompt evaluated so far, in order.
func (b *Backend) Prompts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

// SpecialFlags returns the special flag of every Eval, parallel to Prompts.
func (b *Backend) SpecialFlags() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.special...)
}

func (b *Backend) LastContextParams() model.ContextParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastParams
}

func (b *Backend) reply(prompt string) []string {
	if r, ok := b.Replies[prompt]; ok {
		return r
	}
	if b.Default != nil {
		return b.Default
	}
	return echo(prompt)
}

func echo(prompt string) []string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l != "" && !strings.HasPrefix(l, "<start_of_turn>") && !strings.HasPrefix(l, "<end_of_turn>") {
			last = l
			break
		}
	}
	words := strings.Fields(last)
	out := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out[i] = w
	}
	return out
}

type weights struct {
	b    *Backend
	path string
	gpu  int
	once sync.Once
}

func (w *weights) NewContext(p model.ContextParams) (model.Context, error) {
	if w.b.ContextErr != nil {
		return nil, w.b.ContextErr
	}
	w.b.contextsOpened.Add(1)
	w.b.mu.Lock()
	w.b.lastParams = p
	w.b.mu.Unlock()
	return &toyContext{b: w.b}, nil
}

func (w *weights) Describe() string {
	return fmt.Sprintf("toy model %s (gpu layers %d)", filepath.Base(w.path), w.gpu)
}

func (w *weights) Close() error {
	w.once.Do(func() { w.b.weightsClosed.Add(1) })
	return nil
}

type toyContext struct {
	b      *Backend
	busy   atomic.Bool
	pieces []string
	pos    int
	calls  int
	ready  bool
	closed bool
}

func (c *toyContext) enter() func() {
	if !c.busy.CompareAndSwap(false, true) {
		c.b.overlaps.Add(1)
		return func() {}
	}
	return func() { c.busy.Store(false) }
}

func (c *toyContext) Reset() error {
	defer c.enter()()
	c.b.resets.Add(1)
	c.pieces, c.pos, c.calls, c.ready = nil, 0, 0, false
	return nil
}

func (c *toyContext) Eval(prompt string, special bool) error {
	defer c.enter()()
	if c.b.EvalErr != nil {
		return c.b.EvalErr
	}
	c.b.evals.Add(1)
	c.b.mu.Lock()
	c.b.prompts = append(c.b.prompts, prompt)
	c.b.special = append(c.b.special, special)
	c.b.mu.Unlock()
	c.pieces = c.b.reply(prompt)
	c.pos = 0
	c.ready = true
	return nil
}

func (c *toyContext) Next() (string, bool, error) {
	defer c.enter()()
	if !c.ready {
		return "", false, ErrNotEvaluated
	}
	c.calls++
	if c.b.OnNext != nil {
		c.b.OnNext(c.calls)
	}
	if c.b.Delay > 0 {
		time.Sleep(c.b.Delay)
	}
	if c.b.PanicAt > 0 && c.calls == c.b.PanicAt {
		panic("toy: scripted panic")
	}
	if c.b.FailAt > 0 && c.calls == c.b.FailAt {
		err := c.b.FailErr
		if err == nil {
			err = errors.New("toy: scripted failure")
		}
		return "", false, err
	}
	if c.pos >= len(c.pieces) {
		return "", true, nil
	}
	p := c.pieces[c.pos]
	c.pos++
	return p, false, nil
}

func (c *toyContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.b.contextsClosed.Add(1)
	return nil
}

// WriteModelFile writes a metadata-only GGUF file into dir and returns its
// path. Load accepts it like real weights.
func WriteModelFile(dir string) (string, error) {
	path := filepath.Join(dir, "toy.gguf")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	err = gguf.Write(f, []gguf.KeyValue{
		{Key: "general.architecture", Value: "toy"},
		{Key: "general.name", Value: "Toy"},
		{Key: "toy.context_length", Value: uint32(8192)},
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	return path, nil
}
