package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var ErrInvalidRequest = errors.New("invalid_request")

const (
	unexpectedErrorMessage = "An unexpected error occurred."

	// statusClientClosedRequest is nginx's code for a client that went away
	// before the answer was ready.
	statusClientClosedRequest = 499
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// completionError marks a failure reported by the completion layer. Its
// message is shown to clients, unlike other internal errors.
type completionError struct {
	err error
}

func (e completionError) Error() string {
	return e.err.Error()
}

func (e completionError) Unwrap() error {
	return e.err
}

func wrapCompletion(err error) error {
	if err == nil {
		return nil
	}
	return completionError{err: err}
}

// statusCoder is implemented by echo's routing and binding errors.
type statusCoder interface {
	StatusCode() int
}

// classify maps a handler error to a status code and a client message.
func classify(err error) (int, string) {
	var (
		ce completionError
		sc statusCoder
	)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, fmt.Sprintf("Error: %d", statusClientClosedRequest)
	case errors.As(err, &ce):
		return http.StatusInternalServerError, "Error: " + ce.Error()
	case errors.As(err, &sc) && sc.StatusCode() >= 400:
		return sc.StatusCode(), fmt.Sprintf("Error: %d", sc.StatusCode())
	default:
		return http.StatusInternalServerError, unexpectedErrorMessage
	}
}
