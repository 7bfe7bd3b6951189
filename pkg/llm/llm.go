package llm

import (
	"context"
	"errors"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Options control one completion call.
type Options struct {
	Temperature float64
	MaxTokens   int64
	// CacheSystemPrompt asks providers that support prompt caching to cache
	// the system prompt prefix.
	CacheSystemPrompt bool
}

// Client issues chat completions. Any provider satisfying this contract can
// back the pipeline.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Named is implemented by clients that can report their provider name.
type Named interface {
	Name() string
}

var ErrEmptyResponse = errors.New("no text content in response")

// NameOf returns the provider name of c, or "unknown".
func NameOf(c Client) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// splitSystem separates system messages from the conversation; providers
// with a dedicated system field need them apart.
func splitSystem(messages []Message) (system string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
