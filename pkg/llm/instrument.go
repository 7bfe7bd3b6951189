package llm

import (
	"context"
	"time"

	"github.com/ruochenliao/text2sql/pkg/metrics"
)

// Instrumented records call counts and latency for the wrapped client.
type Instrumented struct {
	next Client
	name string
}

func NewInstrumented(next Client) *Instrumented {
	return &Instrumented{next: next, name: NameOf(next)}
}

func (c *Instrumented) Name() string { return c.name }

func (c *Instrumented) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	start := time.Now()
	text, err := c.next.Complete(ctx, messages, opts)
	metrics.ModelCallDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ModelCallsTotal.WithLabelValues(c.name, status).Inc()
	return text, err
}
