//go:build !nollama

package backend

import (
	"github.com/samcharles93/hearth/internal/backend/llamacpp"
	"github.com/samcharles93/hearth/internal/model"
)

func Has(name string) bool {
	return name == Llama || name == Toy
}

func newLlama(opts Options) (model.Backend, error) {
	return llamacpp.New(opts.LibraryPath, opts.Logger), nil
}
