package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

const sseDone = "[DONE]"

// SSEStreamWriter writes server-sent events to an echo response.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	begun   bool
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, newInvalidRequest("streaming unsupported")
	}

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")

	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
	}, nil
}

// Begin commits the response headers.
func (s *SSEStreamWriter) Begin() {
	if s.begun {
		return
	}
	s.begun = true
	if rw, ok := s.w.(http.ResponseWriter); ok {
		rw.WriteHeader(http.StatusOK)
	}
	s.flush()
}

func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

// EmitToken sends one generated fragment as a JSON string, so fragments
// containing newlines survive the event framing.
func (s *SSEStreamWriter) EmitToken(piece string) error {
	return s.send("", piece)
}

// Done ends the stream with a done event.
func (s *SSEStreamWriter) Done() error {
	return s.sendRaw("done", sseDone)
}

// Failed ends the stream with an error event.
func (s *SSEStreamWriter) Failed(err error) error {
	return s.send("error", map[string]string{"message": err.Error()})
}

// Data sends payload as an unnamed event.
func (s *SSEStreamWriter) Data(payload any) error {
	return s.send("", payload)
}

// Terminate writes the OpenAI stream terminator.
func (s *SSEStreamWriter) Terminate() error {
	return s.sendRaw("", sseDone)
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.sendRaw(event, string(b))
}

func (s *SSEStreamWriter) sendRaw(event, data string) error {
	s.Begin()
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
