package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{"", StateAnalyzing, true},
		{"", StateGenerating, false},
		{StateAnalyzing, StateGenerating, true},
		{StateAnalyzing, StateExecuting, false},
		{StateGenerating, StateValidating, true},
		{StateGenerating, StateExecuting, false},
		{StateValidating, StateExecuting, true},
		{StateValidating, StateExplaining, true},
		{StateValidating, StateGenerating, true},
		{StateValidating, StateRecommending, false},
		{StateExecuting, StateExplaining, true},
		{StateExecuting, StateGenerating, true},
		{StateExplaining, StateRecommending, true},
		{StateExplaining, StateGenerating, true},
		{StateRecommending, StateDone, true},
		{StateRecommending, StateGenerating, false},
		{StateAnalyzing, StateFailed, true},
		{StateExecuting, StateCancelled, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateAnalyzing, false},
		{StateCancelled, StateCancelled, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateDone, StateFailed, StateCancelled} {
		require.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateAnalyzing, StateGenerating, StateValidating, StateExecuting, StateExplaining, StateRecommending} {
		require.False(t, s.Terminal(), s)
	}
}

func TestParseIntentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, IntentTimeAnalysis, ParseIntentType("time_analysis"))
	require.Equal(t, IntentJoin, ParseIntentType("join"))
	require.Equal(t, IntentUnknown, ParseIntentType("aggregate"))
	require.Equal(t, IntentUnknown, ParseIntentType(""))

	require.Equal(t, ComplexityComplex, ParseComplexity("complex"))
	require.Equal(t, ComplexitySimple, ParseComplexity("trivial"))
}

func TestExecutionErrorType_Regenerable(t *testing.T) {
	t.Parallel()

	require.False(t, ExecConnectionError.Regenerable())
	require.False(t, ExecPermissionError.Regenerable())
	for _, et := range []ExecutionErrorType{ExecSyntaxError, ExecTableNotFound, ExecColumnNotFound, ExecTimeoutError, ExecExecutionError, ExecUnknown} {
		require.True(t, et.Regenerable(), et)
	}
}

func TestRun_Result(t *testing.T) {
	t.Parallel()

	run := &Run{
		StartedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Candidate:   &SQLCandidate{Statement: "SELECT 1 FROM t;"},
		Explanation: &Explanation{Text: "one"},
	}
	require.Zero(t, run.Duration())

	res := run.Result()
	require.Equal(t, "SELECT 1 FROM t;", res.SQL)
	require.Equal(t, "one", res.Explanation)
	require.Nil(t, res.Execution)

	// The executed text wins once it exists, since it may carry an injected limit.
	run.Execution = &ExecutionResult{Success: true, SQL: "SELECT 1 FROM t LIMIT 100"}
	require.Equal(t, "SELECT 1 FROM t LIMIT 100", run.Result().SQL)

	run.EndedAt = run.StartedAt.Add(1500 * time.Millisecond)
	require.Equal(t, 1500*time.Millisecond, run.Duration())
}

func TestStageError(t *testing.T) {
	t.Parallel()

	cause := errors.New("no such table: Customers")
	se := &StageError{Kind: KindExecution, Stage: SourceExecutor, Message: cause.Error(), ExecType: ExecTableNotFound, Err: cause}
	require.Equal(t, "EXECUTION_ERROR (TABLE_NOT_FOUND) in sql_executor: no such table: Customers", se.Error())
	require.ErrorIs(t, se, cause)

	wrapped := fmt.Errorf("run: %w", NewStageError(KindInternal, SourceCoordinator, cause))
	got, ok := AsStageError(wrapped)
	require.True(t, ok)
	require.Equal(t, KindInternal, got.Kind)
	require.Equal(t, "INTERNAL_ERROR in coordinator: no such table: Customers", got.Error())

	_, ok = AsStageError(cause)
	require.False(t, ok)
}

func TestSinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, b := &Recorder{}, &Recorder{}
	sink := MultiSink(a, nil, b)
	sink.Emit(ctx, Event{Seq: 1})
	sink.Emit(ctx, Event{Seq: 2, IsFinal: true})
	DiscardSink.Emit(ctx, Event{Seq: 3})

	require.Len(t, a.Events(), 2)
	require.Equal(t, a.Events(), b.Events())
	require.True(t, b.Events()[1].IsFinal)
}

func TestChannelSink_AbandonedReader(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(1)
	ctx, cancel := context.WithCancel(context.Background())

	sink.Emit(ctx, Event{Seq: 1})
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The buffer is full and nobody reads: neither call may block.
		sink.Emit(ctx, Event{Seq: 2})
		sink.Emit(ctx, Event{Seq: 3, IsFinal: true})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked after cancellation")
	}
	require.Equal(t, 1, (<-sink.C).Seq)
}

func TestChannelSink_FinalDeliveredWhenRoom(t *testing.T) {
	t.Parallel()

	sink := NewChannelSink(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.Emit(ctx, Event{Seq: 1, IsFinal: true})
	ev := <-sink.C
	require.True(t, ev.IsFinal)
}
