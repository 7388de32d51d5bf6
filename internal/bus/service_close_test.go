package bus

import (
	"context"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/samcharles93/hearth/internal/completion"
	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/prompt"
)

type countingCompleter struct {
	calls atomic.Int64
}

func (c *countingCompleter) StreamChat(context.Context, prompt.Conversation, inference.GenerationConfig) iter.Seq2[string, error] {
	c.calls.Add(1)
	return func(func(string, error) bool) {}
}

func (c *countingCompleter) CompleteChatResult(context.Context, prompt.Conversation, inference.GenerationConfig) (completion.Result, error) {
	c.calls.Add(1)
	return completion.Result{}, nil
}

func (c *countingCompleter) StreamText(context.Context, string, inference.GenerationConfig) iter.Seq2[string, error] {
	c.calls.Add(1)
	return func(func(string, error) bool) {}
}

func (c *countingCompleter) CompleteTextResult(context.Context, string, inference.GenerationConfig) (completion.Result, error) {
	c.calls.Add(1)
	return completion.Result{}, nil
}

func TestRequestsAfterCloseAreDropped(t *testing.T) {
	t.Parallel()

	fake := &countingCompleter{}
	svc := NewService(context.Background(), config.Default().Bus, nil, fake, nil)
	svc.Close()

	svc.handleRequest(&nats.Msg{Data: []byte(`{"prompt":"late"}`)})
	svc.wg.Wait()

	if n := fake.calls.Load(); n != 0 {
		t.Fatalf("completer called %d times after Close", n)
	}
	svc.Close()
}
