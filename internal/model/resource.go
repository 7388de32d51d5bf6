package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/samcharles93/hearth/internal/gguf"
	"github.com/samcharles93/hearth/internal/logger"
)

const (
	DefaultContextSize = 2048
	DefaultBatchSize   = 512
)

// Options configures Load. Zero values select the defaults.
type Options struct {
	ContextSize int
	GPULayers   int
	// Contexts is the number of independent execution contexts. Each
	// in-flight generation leases one exclusively, so this is also the
	// generation concurrency. Defaults to 1.
	Contexts  int
	BatchSize int
	Backend   Backend
	Logger    logger.Logger
}

func (o Options) withDefaults() Options {
	if o.ContextSize <= 0 {
		o.ContextSize = DefaultContextSize
	}
	if o.GPULayers < 0 {
		o.GPULayers = 0
	}
	if o.Contexts <= 0 {
		o.Contexts = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = min(DefaultBatchSize, o.ContextSize)
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}

// Info describes a loaded resource.
type Info struct {
	Path          string `json:"path"`
	Backend       string `json:"backend"`
	Architecture  string `json:"architecture,omitempty"`
	Name          string `json:"name,omitempty"`
	TrainContext  uint64 `json:"trainContext,omitempty"`
	ContextSize   int    `json:"contextSize"`
	GPULayers     int    `json:"gpuLayers"`
	Contexts      int    `json:"contexts"`
	Description   string `json:"description,omitempty"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
}

// Resource owns loaded weights and a fixed pool of execution contexts.
// It is created once by Load and torn down once by Dispose.
type Resource struct {
	info    Info
	weights Weights
	all     []Context
	free    chan Context
	log     logger.Logger

	mu       sync.Mutex
	disposed bool
	done     chan struct{}
	leases   sync.WaitGroup
	once     sync.Once
}

// Load validates path, loads the weights and creates the contexts.
// A missing file yields a LoadError matching ErrNotFound without touching
// the backend. Every other failure matches ErrInitializationFailed, and
// anything created before the failure is released again.
func Load(ctx context.Context, path string, opts Options) (*Resource, error) {
	opts = opts.withDefaults()

	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(path, err)
		}
		return nil, initFailed(path, err)
	}
	if st.IsDir() {
		return nil, notFound(path, fmt.Errorf("%s is a directory", path))
	}

	md, err := gguf.Probe(path)
	if err != nil {
		return nil, initFailed(path, fmt.Errorf("incompatible model format: %w", err))
	}
	if opts.Backend == nil {
		return nil, initFailed(path, errors.New("no inference backend configured"))
	}
	if err := ctx.Err(); err != nil {
		return nil, initFailed(path, err)
	}

	weights, err := safeLoadWeights(opts.Backend, path, WeightsParams{GPULayers: opts.GPULayers})
	if err != nil {
		return nil, initFailed(path, fmt.Errorf("load weights: %w", err))
	}

	contexts := make([]Context, 0, opts.Contexts)
	cleanup := func() {
		for _, c := range contexts {
			_ = c.Close()
		}
		_ = weights.Close()
	}
	for i := range opts.Contexts {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, initFailed(path, err)
		}
		c, err := safeNewContext(weights, ContextParams{ContextSize: opts.ContextSize, BatchSize: opts.BatchSize})
		if err != nil {
			cleanup()
			return nil, initFailed(path, fmt.Errorf("create context %d: %w", i, err))
		}
		contexts = append(contexts, c)
	}

	r := &Resource{
		info: Info{
			Path:          path,
			Backend:       opts.Backend.Name(),
			Architecture:  md.Architecture(),
			Name:          md.Name(),
			TrainContext:  md.ContextLength(),
			ContextSize:   opts.ContextSize,
			GPULayers:     opts.GPULayers,
			Contexts:      opts.Contexts,
			Description:   weights.Describe(),
			FileSizeBytes: st.Size(),
		},
		weights: weights,
		all:     contexts,
		free:    make(chan Context, len(contexts)),
		log:     opts.Logger.With("component", "model"),
		done:    make(chan struct{}),
	}
	for _, c := range contexts {
		r.free <- c
	}

	r.log.Info("model loaded",
		"path", path,
		"backend", r.info.Backend,
		"arch", r.info.Architecture,
		"context_size", opts.ContextSize,
		"gpu_layers", opts.GPULayers,
		"contexts", opts.Contexts,
	)
	if r.info.TrainContext > 0 && uint64(opts.ContextSize) > r.info.TrainContext {
		r.log.Warn("context size exceeds training context", "context_size", opts.ContextSize, "train_context", r.info.TrainContext)
	}
	return r, nil
}

func (r *Resource) Info() Info {
	return r.info
}

// Acquire leases one context exclusively. It blocks until a context is
// free, ctx is done, or the resource is disposed.
func (r *Resource) Acquire(ctx context.Context) (*Lease, error) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil, ErrDisposed
	}
	r.leases.Add(1)
	r.mu.Unlock()

	select {
	case c := <-r.free:
		select {
		case <-r.done:
			r.free <- c
			r.leases.Done()
			return nil, ErrDisposed
		default:
		}
		return &Lease{res: r, ctx: c}, nil
	case <-ctx.Done():
		r.leases.Done()
		return nil, ctx.Err()
	case <-r.done:
		r.leases.Done()
		return nil, ErrDisposed
	}
}

// Dispose waits for outstanding leases, then releases every context
// followed by the weights. Only the first call does any work.
func (r *Resource) Dispose() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.disposed = true
		close(r.done)
		r.mu.Unlock()

		r.leases.Wait()

		var errs []error
		for i, c := range r.all {
			if cerr := safeClose(c.Close); cerr != nil {
				errs = append(errs, fmt.Errorf("close context %d: %w", i, cerr))
			}
		}
		if werr := safeClose(r.weights.Close); werr != nil {
			errs = append(errs, fmt.Errorf("close weights: %w", werr))
		}
		r.all = nil
		err = errors.Join(errs...)
		r.log.Info("model disposed", "path", r.info.Path)
	})
	return err
}

// Lease is exclusive access to one execution context.
type Lease struct {
	res  *Resource
	ctx  Context
	once sync.Once
}

func (l *Lease) Context() Context {
	return l.ctx
}

// Release returns the context to the pool. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.res.free <- l.ctx
		l.res.leases.Done()
	})
}

func safeLoadWeights(b Backend, path string, p WeightsParams) (w Weights, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w, err = nil, fmt.Errorf("panic in LoadWeights: %v", rec)
		}
	}()
	return b.LoadWeights(path, p)
}

func safeNewContext(w Weights, p ContextParams) (c Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c, err = nil, fmt.Errorf("panic in NewContext: %v", rec)
		}
	}()
	return w.NewContext(p)
}

func safeClose(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Close: %v", rec)
		}
	}()
	return fn()
}
