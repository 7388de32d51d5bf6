// Package llamacpp runs GGUF models through llama.cpp using the yzma
// bindings, which load the shared libraries at runtime without cgo.
package llamacpp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/model"
)

const (
	Name = "llama"

	// LibraryEnv names the directory holding the llama.cpp shared libraries
	// when no path is configured.
	LibraryEnv = "YZMA_LIB"

	defaultLibraryDir = "lib"
	pieceBufSize      = 256
)

var (
	ErrPromptTooLong = errors.New("llamacpp: prompt exceeds context size")
	ErrEmptyPrompt   = errors.New("llamacpp: prompt produced no tokens")
	ErrClosed        = errors.New("llamacpp: context closed")
)

// The shared libraries are process-global, so they are loaded once no
// matter how many backends exist.
var (
	libOnce sync.Once
	libErr  error
)

func loadLibrary(dir string, log logger.Logger) error {
	libOnce.Do(func() {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		log.Info("loading llama.cpp libraries", "dir", dir)
		if err := llama.Load(dir); err != nil {
			libErr = fmt.Errorf("load llama.cpp libraries from %s: %w", dir, err)
			return
		}
		llama.Init()
		log.Info("llama.cpp ready", "gpu_offload", llama.SupportsGpuOffload())
	})
	return libErr
}

// LibraryDir resolves the library directory: the explicit path, then
// $YZMA_LIB, then ./lib.
func LibraryDir(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		return env
	}
	return defaultLibraryDir
}

type Backend struct {
	dir string
	log logger.Logger
}

func New(libraryPath string, log logger.Logger) *Backend {
	if log == nil {
		log = logger.Discard()
	}
	return &Backend{dir: LibraryDir(libraryPath), log: log.With("component", "llamacpp")}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) LoadWeights(path string, p model.WeightsParams) (model.Weights, error) {
	if err := loadLibrary(b.dir, b.log); err != nil {
		return nil, err
	}

	params := llama.ModelDefaultParams()
	params.NGpuLayers = int32(p.GPULayers)
	if p.GPULayers > 0 && !llama.SupportsGpuOffload() {
		b.log.Warn("gpu layers requested but offload is unavailable, using cpu", "gpu_layers", p.GPULayers)
		params.NGpuLayers = 0
	}

	m, err := llama.ModelLoadFromFile(path, params)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &weights{model: m, vocab: llama.ModelGetVocab(m), log: b.log}, nil
}

type weights struct {
	model llama.Model
	vocab llama.Vocab
	log   logger.Logger

	mu     sync.Mutex
	closed bool
}

func (w *weights) Describe() string {
	return llama.ModelDesc(w.model)
}

func (w *weights) NewContext(p model.ContextParams) (model.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	c := &llamaContext{
		w:      w,
		nCtx:   uint32(p.ContextSize),
		nBatch: uint32(p.BatchSize),
		buf:    make([]byte, pieceBufSize),
	}
	// Created eagerly so a model that cannot get a context fails at load.
	if err := c.state.reset(c.open, c.release); err != nil {
		return nil, err
	}
	return c, nil
}

func (w *weights) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	llama.ModelFree(w.model)
	return nil
}

// llamaContext is one execution context plus its sampler. It is not safe
// for concurrent use; the model resource hands it out under a lease.
type llamaContext struct {
	w      *weights
	nCtx   uint32
	nBatch uint32

	lctx    llama.Context
	sampler llama.Sampler
	state   lifecycle
	nPast   int
	pending bool
	buf     []byte
}

// lifecycle tracks whether the native context holds state from an earlier
// generation and has to be recreated before the next one.
type lifecycle struct {
	live   bool
	dirty  bool
	closed bool
}

// reset recreates the context when it is missing or dirty. A failed open
// leaves it missing, so the next reset tries again.
func (l *lifecycle) reset(open func() error, release func()) error {
	if l.closed {
		return ErrClosed
	}
	if l.live && !l.dirty {
		return nil
	}
	if l.live {
		release()
		l.live = false
	}
	if err := open(); err != nil {
		return err
	}
	l.live, l.dirty = true, false
	return nil
}

func (l *lifecycle) close(release func()) {
	if l.live {
		release()
	}
	l.live, l.closed = false, true
}

func (c *llamaContext) open() error {
	cp := llama.ContextDefaultParams()
	cp.Embeddings = 0
	cp.NCtx = c.nCtx
	cp.NBatch = c.nBatch
	lctx, err := llama.InitFromModel(c.w.model, cp)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	c.lctx = lctx
	c.sampler = llama.NewSampler(c.w.model, llama.DefaultSamplers, llama.DefaultSamplerParams())
	c.nPast = 0
	c.pending = false
	return nil
}

func (c *llamaContext) release() {
	llama.SamplerFree(c.sampler)
	llama.Free(c.lctx)
}

// Reset discards the KV state and sampler history by recreating both. A
// context nothing was evaluated on since it was created is kept.
func (c *llamaContext) Reset() error {
	return c.state.reset(c.open, c.release)
}

// Eval decodes the prompt in batch-sized chunks.
func (c *llamaContext) Eval(prompt string, special bool) error {
	if !c.state.live {
		return ErrClosed
	}
	c.state.dirty = true
	tokens := llama.Tokenize(c.w.vocab, prompt, true, special)
	if len(tokens) == 0 {
		return ErrEmptyPrompt
	}
	if c.nPast+len(tokens) >= int(c.nCtx) {
		return fmt.Errorf("%w: %d tokens, context %d", ErrPromptTooLong, len(tokens), c.nCtx)
	}
	step := int(c.nBatch)
	if step <= 0 {
		step = len(tokens)
	}
	for i := 0; i < len(tokens); i += step {
		end := min(i+step, len(tokens))
		if _, err := llama.Decode(c.lctx, llama.BatchGetOne(tokens[i:end])); err != nil {
			return fmt.Errorf("decode prompt at token %d: %w", i, err)
		}
	}
	c.nPast += len(tokens)
	c.pending = true
	return nil
}

// Next samples one token and feeds it back. A full context is reported as
// end of generation.
func (c *llamaContext) Next() (string, bool, error) {
	if !c.state.live {
		return "", false, ErrClosed
	}
	if !c.pending {
		return "", false, errors.New("llamacpp: no prompt evaluated")
	}
	if c.nPast >= int(c.nCtx) {
		c.w.log.Debug("context full", "n_ctx", c.nCtx)
		return "", true, nil
	}

	tok := llama.SamplerSample(c.sampler, c.lctx, -1)
	if llama.VocabIsEOG(c.w.vocab, tok) {
		return "", true, nil
	}

	n := llama.TokenToPiece(c.w.vocab, tok, c.buf, 0, true)
	if n < 0 {
		// Negative lengths report the size the piece needs.
		c.buf = make([]byte, -n)
		n = llama.TokenToPiece(c.w.vocab, tok, c.buf, 0, true)
	}
	var piece string
	if n > 0 {
		piece = string(c.buf[:n])
	}

	if _, err := llama.Decode(c.lctx, llama.BatchGetOne([]llama.Token{tok})); err != nil {
		return "", false, fmt.Errorf("decode token: %w", err)
	}
	c.nPast++
	return piece, false, nil
}

func (c *llamaContext) Close() error {
	c.state.close(c.release)
	return nil
}
