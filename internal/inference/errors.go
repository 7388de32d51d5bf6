package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrInference matches every *InferenceError.
	ErrInference = errors.New("inference failed")

	ErrSessionConsumed = errors.New("inference: session already consumed")
)

// InferenceError reports a native failure during one generation. The model
// resource stays usable after it.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("inference %s failed", e.Op)
	}
	return fmt.Sprintf("inference %s failed: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}

func inferenceErr(op string, err error) error {
	return &InferenceError{Op: op, Err: err}
}
