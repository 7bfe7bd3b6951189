// Package coordinator drives one question through the stage pipeline and
// streams its progress.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ruochenliao/text2sql/pkg/dialect"
	"github.com/ruochenliao/text2sql/pkg/metrics"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/schema"
	"github.com/ruochenliao/text2sql/pkg/security"
)

const (
	DefaultMaxGenerationRetries = 1
	DefaultMaxExecutionRetries  = 1
	DefaultPoolSize             = 16
	DefaultStreamBuffer         = 64

	recordTimeout = 5 * time.Second
)

// Validator is the security gate. *security.Validator implements it.
type Validator interface {
	Validate(sql string) (pipeline.SecurityVerdict, *security.Approval)
}

// Executor runs approved statements. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, approval *security.Approval) pipeline.ExecutionResult
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run *pipeline.Run) error
}

// Budgets bounds the time each stage may take.
type Budgets struct {
	Analyze   time.Duration
	Generate  time.Duration
	Validate  time.Duration
	Execute   time.Duration
	Explain   time.Duration
	Recommend time.Duration
}

func DefaultBudgets() Budgets {
	return Budgets{
		Analyze:   60 * time.Second,
		Generate:  60 * time.Second,
		Validate:  time.Second,
		Execute:   30 * time.Second,
		Explain:   60 * time.Second,
		Recommend: 5 * time.Second,
	}
}

func (b *Budgets) fill() {
	d := DefaultBudgets()
	for _, p := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&b.Analyze, d.Analyze}, {&b.Generate, d.Generate}, {&b.Validate, d.Validate},
		{&b.Execute, d.Execute}, {&b.Explain, d.Explain}, {&b.Recommend, d.Recommend},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
}

// RunTimeout is the sum of the stage budgets, counting generation and
// execution once per allowed attempt.
func (b Budgets) RunTimeout(genRetries, execRetries int) time.Duration {
	attempts := time.Duration(1 + genRetries + execRetries)
	return b.Analyze + attempts*(b.Generate+b.Validate) + time.Duration(1+execRetries)*b.Execute + b.Explain + b.Recommend
}

type Config struct {
	Logger      *slog.Logger
	Schema      schema.Provider
	Dialect     dialect.Dialect
	Analyzer    pipeline.Analyzer
	Generator   pipeline.Generator
	Validator   Validator
	Executor    Executor
	Explainer   pipeline.Explainer
	Recommender pipeline.Recommender

	// Recorder is optional.
	Recorder Recorder
	Clock    clockwork.Clock

	Budgets Budgets
	// RunTimeout defaults to Budgets.RunTimeout.
	RunTimeout time.Duration

	MaxGenerationRetries int
	MaxExecutionRetries  int
	PoolSize             int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Schema == nil {
		return errors.New("schema provider is required")
	}
	if _, err := dialect.Parse(string(cfg.Dialect)); err != nil {
		return err
	}
	if cfg.Analyzer == nil {
		return errors.New("analyzer is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Validator == nil {
		return errors.New("validator is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Explainer == nil {
		return errors.New("explainer is required")
	}
	if cfg.Recommender == nil {
		return errors.New("recommender is required")
	}
	if cfg.MaxGenerationRetries < 0 || cfg.MaxExecutionRetries < 0 {
		return errors.New("retry limits must not be negative")
	}
	if cfg.MaxGenerationRetries == 0 {
		cfg.MaxGenerationRetries = DefaultMaxGenerationRetries
	}
	if cfg.MaxExecutionRetries == 0 {
		cfg.MaxExecutionRetries = DefaultMaxExecutionRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	cfg.Budgets.fill()
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = cfg.Budgets.RunTimeout(cfg.MaxGenerationRetries, cfg.MaxExecutionRetries)
	}
	return nil
}

// Coordinator is safe for concurrent use; every Run owns its own state.
type Coordinator struct {
	log  *slog.Logger
	cfg  Config
	pool pond.Pool
}

func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewPool(cfg.PoolSize),
	}, nil
}

// Close waits for in-flight stage tasks and releases the worker pool.
func (c *Coordinator) Close() {
	c.pool.StopAndWait()
}

func (c *Coordinator) RunTimeout() time.Duration { return c.cfg.RunTimeout }

// Run answers question, emitting progress to sink, and returns the run in
// its terminal state. The error is non-nil only for invalid arguments;
// pipeline failures are reported through Run.Err and the final event.
func (c *Coordinator) Run(ctx context.Context, question string, sink pipeline.Sink) (*pipeline.Run, error) {
	if strings.TrimSpace(question) == "" {
		return nil, pipeline.ErrEmptyQuestion
	}
	if sink == nil {
		return nil, pipeline.ErrNilSink
	}

	run := &pipeline.Run{
		ID:        uuid.NewString(),
		Question:  question,
		Dialect:   string(c.cfg.Dialect),
		StartedAt: c.cfg.Clock.Now(),
		History:   []pipeline.Transition{},
	}
	rc := &runState{c: c, run: run, sink: sink, log: c.log.With("run_id", run.ID)}

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()
	rc.log.Info("coordinator: run started", "question", question)

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	stageErr := rc.safely(pipeline.SourceCoordinator, func() *pipeline.StageError {
		return rc.drive(runCtx)
	})
	c.finish(ctx, runCtx, rc, stageErr)
	return run, nil
}

// Stream runs question in the background. The channel closes after the
// final event; wait then returns the finished run.
func (c *Coordinator) Stream(ctx context.Context, question string) (<-chan pipeline.Event, func() (*pipeline.Run, error)) {
	sink := pipeline.NewChannelSink(DefaultStreamBuffer)
	done := make(chan struct{})
	var (
		run *pipeline.Run
		err error
	)
	go func() {
		defer close(sink.C)
		defer close(done)
		run, err = c.Run(ctx, question, sink)
	}()
	return sink.C, func() (*pipeline.Run, error) {
		<-done
		return run, err
	}
}

func (c *Coordinator) finish(ctx, runCtx context.Context, rc *runState, stageErr *pipeline.StageError) {
	run := rc.run
	state := pipeline.StateDone
	switch {
	case stageErr == errInterrupted && ctx.Err() != nil:
		state = pipeline.StateCancelled
		stageErr = &pipeline.StageError{
			Kind:    pipeline.KindCancelled,
			Stage:   rc.stage(),
			Message: "run cancelled by caller",
			Err:     ctx.Err(),
		}
	case stageErr == errInterrupted:
		state = pipeline.StateFailed
		stageErr = &pipeline.StageError{
			Kind:    pipeline.KindRunTimeout,
			Stage:   rc.stage(),
			Message: fmt.Sprintf("run exceeded its %s budget", c.cfg.RunTimeout),
			Err:     runCtx.Err(),
		}
	case stageErr != nil:
		state = pipeline.StateFailed
	}

	run.Err = stageErr
	if rc.current() != state {
		rc.transition(state)
	}
	run.EndedAt = c.cfg.Clock.Now()

	rc.emit(ctx, pipeline.Event{
		Source:  pipeline.SourceCoordinator,
		State:   state,
		IsFinal: true,
		Error:   state != pipeline.StateDone,
		Content: pipeline.Final{State: state, Result: run.Result(), Error: stageErr},
	})

	metrics.RunsTotal.WithLabelValues(string(state)).Inc()
	attrs := []any{"state", state, "duration", run.Duration(), "generation_retries", run.GenerationRetries, "execution_retries", run.ExecutionRetries}
	if stageErr != nil {
		attrs = append(attrs, "error", stageErr.Error())
	}
	if state == pipeline.StateFailed {
		rc.log.Warn("coordinator: run failed", attrs...)
	} else {
		rc.log.Info("coordinator: run finished", attrs...)
	}

	if c.cfg.Recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := c.cfg.Recorder.Record(recCtx, run); err != nil {
			rc.log.Warn("coordinator: failed to record run", "error", err)
		}
	}
}

// errInterrupted signals that the run context ended between stages. finish
// turns it into CANCELLED or RUN_TIMEOUT.
var errInterrupted = &pipeline.StageError{Kind: pipeline.KindInternal, Stage: pipeline.SourceCoordinator, Message: "interrupted"}

// runState is the per-run mutable state. Emission and state changes are
// serialized by mu because the execute and explain stages run concurrently.
type runState struct {
	c    *Coordinator
	run  *pipeline.Run
	sink pipeline.Sink
	log  *slog.Logger

	mu  sync.Mutex
	seq int
}

func (rc *runState) current() pipeline.State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.run.State
}

func (rc *runState) stage() string {
	switch rc.current() {
	case pipeline.StateAnalyzing:
		return pipeline.SourceAnalyzer
	case pipeline.StateGenerating:
		return pipeline.SourceGenerator
	case pipeline.StateValidating:
		return pipeline.SourceValidator
	case pipeline.StateExecuting:
		return pipeline.SourceExecutor
	case pipeline.StateExplaining:
		return pipeline.SourceExplainer
	case pipeline.StateRecommending:
		return pipeline.SourceRecommender
	default:
		return pipeline.SourceCoordinator
	}
}

// transition moves the run to next and reports whether the move was legal.
// Illegal moves are logged and ignored.
func (rc *runState) transition(next pipeline.State) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !pipeline.CanTransition(rc.run.State, next) {
		rc.log.Error("coordinator: illegal transition", "from", rc.run.State, "to", next)
		return false
	}
	rc.run.State = next
	rc.run.History = append(rc.run.History, pipeline.Transition{State: next, At: rc.c.cfg.Clock.Now()})
	return true
}

func (rc *runState) emit(ctx context.Context, ev pipeline.Event) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.seq++
	ev.RunID = rc.run.ID
	ev.Seq = rc.seq
	ev.Timestamp = rc.c.cfg.Clock.Now()
	rc.sink.Emit(ctx, ev)
}

// enter transitions and announces the new state.
func (rc *runState) enter(ctx context.Context, state pipeline.State, message string) {
	if !rc.transition(state) {
		return
	}
	rc.emit(ctx, pipeline.Event{Source: pipeline.SourceCoordinator, State: state, Content: message})
}

// safely runs fn, converting a panic into an INTERNAL_ERROR for stage.
func (rc *runState) safely(stage string, fn func() *pipeline.StageError) (se *pipeline.StageError) {
	defer func() {
		if r := recover(); r != nil {
			rc.log.Error("coordinator: stage panicked", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			se = &pipeline.StageError{
				Kind:    pipeline.KindInternal,
				Stage:   stage,
				Message: fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return fn()
}

func (rc *runState) observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(rc.c.cfg.Clock.Since(start).Seconds())
}
