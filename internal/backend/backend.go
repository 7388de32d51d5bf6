// Package backend selects the native inference backend a model is loaded
// with.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/model"
	"github.com/samcharles93/hearth/internal/toy"
)

const (
	Llama = "llama"
	Toy   = "toy"
)

type Options struct {
	// LibraryPath is the llama.cpp shared library directory.
	LibraryPath string
	Logger      logger.Logger
}

// Normalize maps a configured backend name to a known one. Empty selects
// llama.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Llama, nil
	}
	switch backend {
	case Llama, Toy:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected llama or toy)", backend)
	}
}

// Open returns the backend called name.
func Open(name string, opts Options) (model.Backend, error) {
	n, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	switch n {
	case Toy:
		opts.Logger.Warn("using the scripted toy backend; output is not generated by a model")
		return toy.New(), nil
	default:
		return newLlama(opts)
	}
}
