package model_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samcharles93/hearth/internal/model"
	"github.com/samcharles93/hearth/internal/toy"
)

func writeModel(t *testing.T) string {
	t.Helper()
	path, err := toy.WriteModelFile(t.TempDir())
	if err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestLoadMissingFileIsNotFound(t *testing.T) {
	t.Parallel()

	backend := toy.New("x")
	res, err := model.Load(context.Background(), "/nonexistent/path/model.gguf", model.Options{Backend: backend})
	if res != nil {
		t.Fatal("expected no resource")
	}
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, model.ErrInitializationFailed) {
		t.Fatal("not found must not match initialization failure")
	}
	var le *model.LoadError
	if !errors.As(err, &le) || le.Kind != model.KindNotFound {
		t.Fatalf("expected LoadError kind not_found, got %#v", err)
	}
	if backend.Stats().Loads != 0 {
		t.Fatal("backend must not be called for a missing file")
	}
}

func TestLoadDirectoryIsNotFound(t *testing.T) {
	t.Parallel()
	_, err := model.Load(context.Background(), t.TempDir(), model.Options{Backend: toy.New()})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadInitializationFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("out of memory")
	garbage := filepath.Join(t.TempDir(), "garbage.gguf")
	if err := os.WriteFile(garbage, []byte("this is not a gguf model file at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		backend model.Backend
		cause   error
	}{
		{name: "bad format", path: garbage, backend: toy.New()},
		{name: "no backend", path: writeModel(t), backend: nil},
		{name: "weights", path: writeModel(t), backend: &toy.Backend{LoadErr: boom}, cause: boom},
		{name: "context", path: writeModel(t), backend: &toy.Backend{ContextErr: boom}, cause: boom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := model.Load(context.Background(), tc.path, model.Options{Backend: tc.backend})
			if res != nil {
				t.Fatal("expected no resource")
			}
			if !errors.Is(err, model.ErrInitializationFailed) {
				t.Fatalf("expected ErrInitializationFailed, got %v", err)
			}
			if tc.cause != nil && !errors.Is(err, tc.cause) {
				t.Fatalf("expected cause %v to be preserved, got %v", tc.cause, err)
			}
		})
	}
}

func TestLoadContextFailureReleasesWeights(t *testing.T) {
	t.Parallel()

	backend := &toy.Backend{ContextErr: errors.New("no memory")}
	_, err := model.Load(context.Background(), writeModel(t), model.Options{Backend: backend})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := backend.Stats(); got.Loads != 1 || got.WeightsClosed != 1 {
		t.Fatalf("expected weights loaded and released once, got %+v", got)
	}
}

func TestLoadDefaultsAndInfo(t *testing.T) {
	t.Parallel()

	backend := toy.New("a")
	path := writeModel(t)
	res, err := model.Load(context.Background(), path, model.Options{Backend: backend})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer func() { _ = res.Dispose() }()

	info := res.Info()
	if info.ContextSize != model.DefaultContextSize || info.GPULayers != 0 || info.Contexts != 1 {
		t.Fatalf("unexpected defaults: %+v", info)
	}
	if info.Path != path || info.Backend != "toy" || info.Architecture != "toy" || info.TrainContext != 8192 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if p := backend.LastContextParams(); p.ContextSize != 2048 || p.BatchSize != 512 {
		t.Fatalf("unexpected context params: %+v", p)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	t.Parallel()

	backend := toy.New("a")
	res, err := model.Load(context.Background(), writeModel(t), model.Options{Backend: backend, Contexts: 2})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := res.Dispose(); err != nil {
		t.Fatalf("first Dispose: %v", err)
	}
	if err := res.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
	got := backend.Stats()
	if got.ContextsClosed != 2 || got.WeightsClosed != 1 {
		t.Fatalf("expected each handle released exactly once, got %+v", got)
	}
	if _, err := res.Acquire(context.Background()); !errors.Is(err, model.ErrDisposed) {
		t.Fatalf("expected ErrDisposed after dispose, got %v", err)
	}
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	res, err := model.Load(context.Background(), writeModel(t), model.Options{Backend: toy.New()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer func() { _ = res.Dispose() }()

	lease, err := res.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := res.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to wait until deadline, got %v", err)
	}

	lease.Release()
	lease.Release()

	again, err := res.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again.Release()
}

func TestDisposeWaitsForLeases(t *testing.T) {
	t.Parallel()

	backend := toy.New()
	res, err := model.Load(context.Background(), writeModel(t), model.Options{Backend: backend})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lease, err := res.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = res.Dispose()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Dispose returned while a lease was outstanding")
	case <-time.After(30 * time.Millisecond):
	}
	if backend.Stats().ContextsClosed != 0 {
		t.Fatal("context closed under an active lease")
	}

	lease.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispose did not finish after release")
	}
}

func TestPoolLeasesDistinctContexts(t *testing.T) {
	t.Parallel()

	const n = 3
	backend := toy.New("x")
	res, err := model.Load(context.Background(), writeModel(t), model.Options{Backend: backend, Contexts: n})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer func() { _ = res.Dispose() }()

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := res.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer lease.Release()
			c := lease.Context()
			_ = c.Reset()
			_ = c.Eval("p", false)
			for {
				_, eog, err := c.Next()
				if err != nil || eog {
					break
				}
			}
		}()
	}
	wg.Wait()

	if got := backend.Stats().Overlaps; got != 0 {
		t.Fatalf("contexts were used concurrently %d times", got)
	}
}
