// Package llmtest provides a fake llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruochenliao/text2sql/pkg/llm"
)

// Call is one recorded completion request.
type Call struct {
	Messages []llm.Message
	Options  llm.Options
}

// System returns the concatenated system prompt of the call.
func (c Call) System() string {
	s := ""
	for _, m := range c.Messages {
		if m.Role == llm.RoleSystem {
			s += m.Content
		}
	}
	return s
}

// LastUser returns the content of the final user message.
func (c Call) LastUser() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == llm.RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Client is a fake llm.Client. CompleteFunc, when set, answers every call;
// otherwise Responses are returned in order and the last one repeats.
type Client struct {
	CompleteFunc func(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)
	Responses    []Response

	mu    sync.Mutex
	calls []Call
}

// Response is one scripted reply.
type Response struct {
	Text string
	Err  error
}

// Reply builds a Client that always returns text.
func Reply(text string) *Client {
	return &Client{Responses: []Response{{Text: text}}}
}

// Fail builds a Client that always returns err.
func Fail(err error) *Client {
	return &Client{Responses: []Response{{Err: err}}}
}

func (c *Client) Name() string { return "fake" }

func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, Call{Messages: append([]llm.Message(nil), messages...), Options: opts})
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.CompleteFunc != nil {
		return c.CompleteFunc(ctx, messages, opts)
	}
	if len(c.Responses) == 0 {
		return "", fmt.Errorf("llmtest: no scripted response for call %d", n+1)
	}
	r := c.Responses[min(n, len(c.Responses)-1)]
	return r.Text, r.Err
}

// Calls returns the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}
