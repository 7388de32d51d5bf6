package api

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"

	"github.com/goccy/go-json"
)

// Envelope is the body shape of every /api response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Ok(data any, message string) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

func Fail(message string) Envelope {
	return Envelope{Success: false, Message: message}
}

// WrapResponses rewrites JSON responses into an Envelope. A 2xx body that is
// not already an envelope becomes its data; an empty 4xx/5xx becomes a
// failure naming the status code. Streams and 204s pass through untouched.
func WrapResponses(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ew := &envelopeWriter{ResponseWriter: w}
		defer ew.finish()
		next.ServeHTTP(ew, r)
	})
}

type envelopeWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
	// direct sends writes to the underlying writer. It is set for non-JSON
	// responses and once the buffered response has been finished.
	direct bool
}

func (w *envelopeWriter) WriteHeader(code int) {
	if w.direct {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if w.status != 0 {
		return
	}
	w.status = code
	if code == http.StatusNoContent || !bufferable(w.Header().Get("Content-Type")) {
		w.direct = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *envelopeWriter) Write(p []byte) (int, error) {
	if !w.direct && w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.direct {
		return w.ResponseWriter.Write(p)
	}
	return w.body.Write(p)
}

func (w *envelopeWriter) Flush() {
	if w.direct {
		_ = http.NewResponseController(w.ResponseWriter).Flush()
	}
}

func (w *envelopeWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *envelopeWriter) finish() {
	if w.direct {
		return
	}
	w.direct = true
	if w.status == 0 {
		// Nothing written; the error handler answers later.
		return
	}

	body := w.body.Bytes()
	switch {
	case w.status >= 200 && w.status < 300 && !isEnvelope(body):
		var data any
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
			data = json.RawMessage(trimmed)
		}
		writeEnvelope(w.ResponseWriter, w.status, Ok(data, "Success"))
	case w.status >= 400 && w.status < 600 && len(bytes.TrimSpace(body)) == 0:
		writeEnvelope(w.ResponseWriter, w.status, Fail(fmt.Sprintf("Error: %d", w.status)))
	default:
		w.ResponseWriter.WriteHeader(w.status)
		_, _ = w.ResponseWriter.Write(body)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"success":false,"message":"` + unexpectedErrorMessage + `","data":null}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// bufferable reports whether a response with this content type may be
// rewritten. An unset type counts, so empty error responses are caught.
func bufferable(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func isEnvelope(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	for _, key := range []string{"success", "message", "data"} {
		if _, ok := fields[key]; !ok {
			return false
		}
	}
	return true
}
