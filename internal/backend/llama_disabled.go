//go:build nollama

package backend

import (
	"errors"

	"github.com/samcharles93/hearth/internal/model"
)

var errLlamaUnavailable = errors.New("llama backend is not available in this build")

func Has(name string) bool {
	return name == Toy
}

func newLlama(Options) (model.Backend, error) {
	return nil, errLlamaUnavailable
}
