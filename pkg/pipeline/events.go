package pipeline

import (
	"context"
	"sync"
	"time"
)

// Component names used as event sources.
const (
	SourceCoordinator = "coordinator"
	SourceAnalyzer    = "query_analyzer"
	SourceGenerator   = "sql_generator"
	SourceValidator   = "sql_validator"
	SourceExecutor    = "sql_executor"
	SourceExplainer   = "sql_explainer"
	SourceRecommender = "visualization_recommender"
)

// Event is one unit of streamed progress for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Source    string    `json:"source"`
	State     State     `json:"state"`
	Content   any       `json:"content"`
	IsFinal   bool      `json:"is_final"`
	Error     bool      `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Final is the content of the last event of a run.
type Final struct {
	State  State       `json:"state"`
	Result Result      `json:"result"`
	Error  *StageError `json:"error,omitempty"`
}

// Sink receives events in emission order. Emit must not block for long; a
// slow sink slows the run that owns it and no other.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// DiscardSink drops every event.
var DiscardSink Sink = SinkFunc(func(context.Context, Event) {})

// MultiSink fans one event out to several sinks in order.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(ctx, ev)
			}
		}
	})
}

// Recorder is a Sink that keeps every event it sees. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ChannelSink forwards events to a channel. Emit gives up when ctx is done so
// an abandoned reader cannot wedge a run.
type ChannelSink struct {
	C chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, ev Event) {
	select {
	case s.C <- ev:
	case <-ctx.Done():
		// The final event is still delivered if there is room.
		if ev.IsFinal {
			select {
			case s.C <- ev:
			default:
			}
		}
	}
}
