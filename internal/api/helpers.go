package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/logger"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, newInvalidRequest("request body is required")
		}
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}

// errorHandler answers errors that escaped a handler. OpenAI-compatible
// routes get an OpenAI error object; everything else gets a Fail envelope.
func errorHandler(log logger.Logger) func(c *echo.Context, err error) {
	return func(c *echo.Context, err error) {
		// RequestLogger reports the error before echo does; answer only once.
		if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
			return
		}
		status, msg := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, logger.Err(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}

		var werr error
		if strings.HasPrefix(c.Request().URL.Path, "/v1/") {
			errType := "server_error"
			if status < http.StatusInternalServerError {
				errType = "invalid_request_error"
				msg = err.Error()
			}
			werr = writeError(c, status, errType, msg, "", "")
		} else {
			werr = c.JSON(status, Fail(msg))
		}
		if werr != nil {
			log.Warn("failed to write error response", logger.Err(werr))
		}
	}
}
