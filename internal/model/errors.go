package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("model file not found")
	ErrInitializationFailed = errors.New("model initialization failed")

	// ErrDisposed is returned by Acquire once Dispose has started.
	ErrDisposed = errors.New("model resource disposed")

	ErrNotLoaded     = errors.New("no model loaded")
	ErrAlreadyLoaded = errors.New("model already loaded")
)

type LoadErrorKind int

const (
	KindNotFound LoadErrorKind = iota + 1
	KindInitializationFailed
)

func (k LoadErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInitializationFailed:
		return "initialization_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LoadError reports why Load failed. The underlying cause is kept for
// diagnostics and reachable through errors.Unwrap.
type LoadError struct {
	Kind LoadErrorKind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("model file not found at: %s", e.Path)
	default:
		if e.Err == nil {
			return fmt.Sprintf("initialize model %s: failed", e.Path)
		}
		return fmt.Sprintf("initialize model %s: %v", e.Path, e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers can write errors.Is(err, ErrNotFound).
func (e *LoadError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInitializationFailed:
		return e.Kind == KindInitializationFailed
	default:
		return false
	}
}

func notFound(path string, cause error) error {
	return &LoadError{Kind: KindNotFound, Path: path, Err: cause}
}

func initFailed(path string, cause error) error {
	return &LoadError{Kind: KindInitializationFailed, Path: path, Err: cause}
}
