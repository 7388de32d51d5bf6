package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/samcharles93/hearth/internal/prompt"
	"github.com/samcharles93/hearth/internal/toy"
)

func TestChatCompletionsBasic(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("o", "k", "<end_of_turn>"))
	body := `{"model":"gemma","messages":[{"role":"user","content":"hello"}]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Object != "chat.completion" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("unexpected id format: %q", resp.ID)
	}
	if resp.Model != "gemma" {
		t.Fatalf("expected requested model to be echoed, got %q", resp.Model)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message == nil {
		t.Fatal("expected message in choice")
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("expected assistant role, got %q", resp.Choices[0].Message.Role)
	}
	if resp.Choices[0].Message.Content != "ok" {
		t.Fatalf("expected 'ok' content, got %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason == nil || *resp.Choices[0].FinishReason != "stop" {
		t.Fatal("expected finish_reason 'stop'")
	}
	if resp.Usage.CompletionTokens != 3 || resp.Usage.TotalTokens != 3 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestChatCompletionsIsNotEnveloped(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("x"))
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	if strings.Contains(rec.Body.String(), `"success"`) {
		t.Fatalf("OpenAI responses must not be wrapped: %s", rec.Body.String())
	}
}

func TestChatCompletionsEmptyMessages(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("x"))
	body := `{"model":"gemma","messages":[]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Fatalf("expected an OpenAI error object, got %s", rec.Body.String())
	}
}

func TestChatCompletionsWithSystemMessage(t *testing.T) {
	t.Parallel()

	backend := toy.New("fine")
	e := newTestEcho(t, backend)
	body := `{"messages":[{"role":"system","content":"You are helpful."},{"role":"user","content":"hi"}]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	want := prompt.BuildChat(prompt.Conversation{
		{Role: prompt.RoleSystem, Content: "You are helpful."},
		{Role: prompt.RoleUser, Content: "hi"},
	})
	if got := backend.Prompts(); len(got) != 1 || got[0] != want {
		t.Fatalf("prompt mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestChatCompletionsLengthAndStop(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("a", "b", "c", "d"))
	tests := []struct {
		name   string
		body   string
		text   string
		finish string
	}{
		{
			name:   "max_tokens",
			body:   `{"messages":[{"role":"user","content":"x"}],"max_tokens":2}`,
			text:   "ab",
			finish: "length",
		},
		{
			name:   "max_completion_tokens wins",
			body:   `{"messages":[{"role":"user","content":"x"}],"max_tokens":1,"max_completion_tokens":3}`,
			text:   "abc",
			finish: "length",
		},
		{
			name:   "stop string",
			body:   `{"messages":[{"role":"user","content":"x"}],"stop":"c"}`,
			text:   "ab",
			finish: "stop",
		},
		{
			name:   "stop list",
			body:   `{"messages":[{"role":"user","content":"x"}],"stop":["zz","b"]}`,
			text:   "a",
			finish: "stop",
		},
	}
	for _, tt := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", tt.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%s", tt.name, rec.Code, rec.Body.String())
		}
		var resp ChatCompletionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if got := resp.Choices[0].Message.Content; got != tt.text {
			t.Fatalf("%s: content %q, want %q", tt.name, got, tt.text)
		}
		if got := *resp.Choices[0].FinishReason; got != tt.finish {
			t.Fatalf("%s: finish %q, want %q", tt.name, got, tt.finish)
		}
	}

	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}],"stop":42}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid stop: expected 400, got %d", rec.Code)
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("he", "llo"))
	body := `{"messages":[{"role":"user","content":"hello"}],"stream":true}`
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	respBody := rec.Body.String()
	if !strings.HasSuffix(respBody, "data: [DONE]\n\n") {
		t.Fatalf("expected [DONE] sentinel at the end, got %q", respBody)
	}

	var content strings.Builder
	var chunks int
	for _, line := range strings.Split(respBody, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", payload, err)
		}
		if chunk.Object != "chat.completion.chunk" || !strings.HasPrefix(chunk.ID, "chatcmpl-") {
			t.Fatalf("unexpected chunk %+v", chunk)
		}
		chunks++
		if s, ok := chunk.Choices[0].Delta.Content.(string); ok {
			content.WriteString(s)
		}
	}
	// role chunk, two content chunks, finish chunk
	if chunks != 4 || content.String() != "hello" {
		t.Fatalf("got %d chunks with content %q", chunks, content.String())
	}
}

func TestChatCompletionsDefaultModel(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("x"))
	body := `{"messages":[{"role":"user","content":"hello"}]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Model != "Toy" {
		t.Fatalf("expected the loaded model name, got %q", resp.Model)
	}
}

func TestChatCompletionsFailure(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, &toy.Backend{Default: []string{"a"}, FailAt: 1})
	rec := doJSON(t, e, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}]}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "server_error") {
		t.Fatalf("expected server_error, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, toy.New("x"))
	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Object string        `json:"object"`
		Data   []ModelObject `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != "list" {
		t.Fatalf("expected object 'list', got %q", resp.Object)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "Toy" || resp.Data[0].OwnedBy != "local" {
		t.Fatalf("unexpected models %+v", resp.Data)
	}
}

func TestChatMessageContentTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content any
		want    string
	}{
		{name: "string", content: "hello", want: "hello"},
		{name: "nil", content: nil, want: ""},
		{
			name: "multi-part",
			content: []any{
				map[string]any{"type": "text", "text": "hello"},
				map[string]any{"type": "image_url", "image_url": map[string]any{"url": "x"}},
				map[string]any{"type": "text", "text": "world"},
			},
			want: "hello\nworld",
		},
		{name: "object", content: map[string]any{"k": "v"}, want: `{"k":"v"}`},
	}
	for _, tt := range tests {
		got, err := chatMessagesToPromptMessages([]ChatMessage{{Role: "user", Content: tt.content}})
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != 1 || got[0].Content != tt.want || got[0].Role != "user" {
			t.Fatalf("%s: got %+v, want content %q", tt.name, got, tt.want)
		}
	}
}
