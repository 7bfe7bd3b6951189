package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ruochenliao/text2sql/pkg/metrics"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/schema"
	"github.com/ruochenliao/text2sql/pkg/security"
	"github.com/ruochenliao/text2sql/pkg/visualize"
)

var complexitySuggestions = []string{
	"Use fewer joins and subqueries",
	"Remove UNION branches and nested aggregation that the question does not need",
	"Select only the columns the question asks for",
}

// drive walks the state machine until DONE or a stage error. It returns
// errInterrupted when the run context ends between stages.
func (rc *runState) drive(ctx context.Context) *pipeline.StageError {
	cfg := rc.c.cfg

	s, err := cfg.Schema.Schema(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errInterrupted
		}
		return pipeline.NewStageError(pipeline.KindInternal, pipeline.SourceCoordinator, fmt.Errorf("failed to load schema: %w", err))
	}
	if err := s.Validate(); err != nil {
		return pipeline.NewStageError(pipeline.KindInternal, pipeline.SourceCoordinator, fmt.Errorf("invalid schema: %w", err))
	}
	schemaText := s.Text()
	tables := s.TableNames()

	rc.enter(ctx, pipeline.StateAnalyzing, "Analyzing the question")
	analysis := rc.analyze(ctx, s, schemaText, tables)
	if ctx.Err() != nil {
		return errInterrupted
	}

	var feedback *pipeline.Feedback
	for {
		rc.resetAttempt()
		rc.enter(ctx, pipeline.StateGenerating, "Generating SQL")
		cand, se := rc.generate(ctx, analysis, schemaText, tables, feedback)
		if se != nil {
			return se
		}
		if ctx.Err() != nil {
			return errInterrupted
		}

		rc.enter(ctx, pipeline.StateValidating, "Checking the statement")
		verdict, approval := rc.validate(ctx, cand)
		if !verdict.Safe {
			if verdict.RiskLevel == pipeline.RiskMedium && rc.run.GenerationRetries < cfg.MaxGenerationRetries {
				rc.run.GenerationRetries++
				metrics.RetriesTotal.WithLabelValues("complexity").Inc()
				rc.log.Info("coordinator: statement too complex, regenerating", "reason", verdict.Reason)
				feedback = &pipeline.Feedback{
					PreviousSQL: cand.Statement,
					Reason:      verdict.Reason,
					Suggestions: complexitySuggestions,
				}
				continue
			}
			return &pipeline.StageError{
				Kind:    pipeline.KindSecurity,
				Stage:   pipeline.SourceValidator,
				Message: verdict.Reason,
			}
		}
		if ctx.Err() != nil {
			return errInterrupted
		}

		exec, se := rc.executeAndExplain(ctx, approval, cand, analysis, schemaText)
		if se != nil {
			return se
		}
		if ctx.Err() != nil {
			return errInterrupted
		}
		if !exec.Success {
			execErr := exec.Error
			if execErr == nil {
				execErr = &pipeline.ExecutionError{Type: pipeline.ExecUnknown, Message: "execution failed"}
			}
			if execErr.Type.Regenerable() && rc.run.ExecutionRetries < cfg.MaxExecutionRetries {
				rc.run.ExecutionRetries++
				metrics.RetriesTotal.WithLabelValues("execution").Inc()
				rc.log.Info("coordinator: execution failed, regenerating", "error_type", execErr.Type, "error", execErr.Message)
				feedback = &pipeline.Feedback{
					PreviousSQL: cand.Statement,
					Reason:      execErr.Message,
					ErrorType:   execErr.Type,
					Suggestions: execErr.Suggestions,
				}
				continue
			}
			return &pipeline.StageError{
				Kind:        pipeline.KindExecution,
				Stage:       pipeline.SourceExecutor,
				Message:     execErr.Message,
				ExecType:    execErr.Type,
				Suggestions: execErr.Suggestions,
			}
		}
		break
	}

	rc.enter(ctx, pipeline.StateRecommending, "Choosing a visualization")
	if se := rc.recommend(ctx, analysis); se != nil {
		return se
	}
	rc.enter(ctx, pipeline.StateDone, "Done")
	return nil
}

// resetAttempt drops the results of a previous candidate so the run only
// ever reports the statement it is currently working on.
func (rc *runState) resetAttempt() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.run.Verdict = nil
	rc.run.Execution = nil
	rc.run.Explanation = nil
}

func (rc *runState) analyze(ctx context.Context, s *schema.Schema, schemaText string, tables []string) pipeline.AnalysisRecord {
	start := rc.c.cfg.Clock.Now()
	defer rc.observe(pipeline.SourceAnalyzer, start)

	stageCtx, cancel := context.WithTimeout(ctx, rc.c.cfg.Budgets.Analyze)
	defer cancel()
	analysis := rc.c.cfg.Analyzer.Analyze(stageCtx, pipeline.AnalyzeRequest{
		Question:     rc.run.Question,
		Schema:       schemaText,
		Tables:       tables,
		DefaultTable: s.MostCommonTable(),
	})
	rc.run.Analysis = &analysis
	rc.emit(ctx, pipeline.Event{
		Source:  pipeline.SourceAnalyzer,
		State:   pipeline.StateAnalyzing,
		Content: analysis,
		Error:   analysis.Fallback,
	})
	return analysis
}

func (rc *runState) generate(ctx context.Context, analysis pipeline.AnalysisRecord, schemaText string, tables []string, feedback *pipeline.Feedback) (pipeline.SQLCandidate, *pipeline.StageError) {
	start := rc.c.cfg.Clock.Now()
	defer rc.observe(pipeline.SourceGenerator, start)

	stageCtx, cancel := context.WithTimeout(ctx, rc.c.cfg.Budgets.Generate)
	defer cancel()
	cand := rc.c.cfg.Generator.Generate(stageCtx, pipeline.GenerateRequest{
		Question: rc.run.Question,
		Analysis: analysis,
		Dialect:  string(rc.c.cfg.Dialect),
		Schema:   schemaText,
		Tables:   tables,
		Feedback: feedback,
	})
	rc.run.Candidate = &cand
	rc.emit(ctx, pipeline.Event{
		Source:  pipeline.SourceGenerator,
		State:   pipeline.StateGenerating,
		Content: cand,
		Error:   cand.Fallback,
	})
	if strings.TrimSpace(cand.Statement) == "" {
		return cand, &pipeline.StageError{
			Kind:    pipeline.KindGeneration,
			Stage:   pipeline.SourceGenerator,
			Message: "generator produced no statement",
		}
	}
	return cand, nil
}

func (rc *runState) validate(ctx context.Context, cand pipeline.SQLCandidate) (pipeline.SecurityVerdict, *security.Approval) {
	start := rc.c.cfg.Clock.Now()
	defer rc.observe(pipeline.SourceValidator, start)

	verdict, approval := rc.c.cfg.Validator.Validate(cand.Statement)
	rc.run.Verdict = &verdict
	rc.emit(ctx, pipeline.Event{
		Source:  pipeline.SourceValidator,
		State:   pipeline.StateValidating,
		Content: verdict,
		Error:   !verdict.Safe,
	})
	if elapsed := rc.c.cfg.Clock.Since(start); elapsed > rc.c.cfg.Budgets.Validate {
		rc.log.Warn("coordinator: validation exceeded its budget", "elapsed", elapsed, "budget", rc.c.cfg.Budgets.Validate)
	}
	return verdict, approval
}

// executeAndExplain runs the executor and the explainer side by side on the
// worker pool and waits for both.
func (rc *runState) executeAndExplain(ctx context.Context, approval *security.Approval, cand pipeline.SQLCandidate, analysis pipeline.AnalysisRecord, schemaText string) (pipeline.ExecutionResult, *pipeline.StageError) {
	cfg := rc.c.cfg
	rc.enter(ctx, pipeline.StateExecuting, "Running the statement")
	rc.enter(ctx, pipeline.StateExplaining, "Explaining the statement")

	var (
		exec              pipeline.ExecutionResult
		execErr, explnErr *pipeline.StageError
	)
	execTask := rc.c.pool.Submit(func() {
		execErr = rc.safely(pipeline.SourceExecutor, func() *pipeline.StageError {
			start := cfg.Clock.Now()
			defer rc.observe(pipeline.SourceExecutor, start)

			stageCtx, cancel := context.WithTimeout(ctx, cfg.Budgets.Execute)
			defer cancel()
			exec = cfg.Executor.Execute(stageCtx, approval)
			rc.run.Execution = &exec
			rc.emit(ctx, pipeline.Event{
				Source:  pipeline.SourceExecutor,
				State:   pipeline.StateExecuting,
				Content: exec,
				Error:   !exec.Success,
			})
			return nil
		})
	})
	explainTask := rc.c.pool.Submit(func() {
		explnErr = rc.safely(pipeline.SourceExplainer, func() *pipeline.StageError {
			start := cfg.Clock.Now()
			defer rc.observe(pipeline.SourceExplainer, start)

			stageCtx, cancel := context.WithTimeout(ctx, cfg.Budgets.Explain)
			defer cancel()
			explanation := cfg.Explainer.Explain(stageCtx, pipeline.ExplainRequest{
				Question: rc.run.Question,
				SQL:      cand.Statement,
				Analysis: analysis,
				Schema:   schemaText,
			})
			rc.run.Explanation = &explanation
			rc.emit(ctx, pipeline.Event{
				Source:  pipeline.SourceExplainer,
				State:   pipeline.StateExplaining,
				Content: explanation,
				Error:   explanation.Fallback,
			})
			return nil
		})
	})

	if err := errors.Join(execTask.Wait(), explainTask.Wait()); err != nil {
		return exec, pipeline.NewStageError(pipeline.KindInternal, pipeline.SourceCoordinator, err)
	}
	if execErr != nil {
		return exec, execErr
	}
	if explnErr != nil {
		return exec, explnErr
	}
	return exec, nil
}

// recommend degrades to a table when the recommender fails or overruns
// its budget. Only an interrupted run context is returned as an error.
func (rc *runState) recommend(ctx context.Context, analysis pipeline.AnalysisRecord) *pipeline.StageError {
	cfg := rc.c.cfg
	start := cfg.Clock.Now()
	defer rc.observe(pipeline.SourceRecommender, start)

	stmt := rc.run.Candidate.Statement
	if rc.run.Execution.SQL != "" {
		stmt = rc.run.Execution.SQL
	}
	result := *rc.run.Execution

	type outcome struct {
		viz pipeline.VisualizationRecommendation
		err error
	}
	var out outcome
	task := rc.c.pool.Submit(func() {
		se := rc.safely(pipeline.SourceRecommender, func() *pipeline.StageError {
			out.viz, out.err = cfg.Recommender.Recommend(stmt, &result, analysis)
			return nil
		})
		if se != nil {
			out.err = se
		}
	})

	budgetCtx, cancel := context.WithTimeout(ctx, cfg.Budgets.Recommend)
	defer cancel()
	var (
		viz    pipeline.VisualizationRecommendation
		recErr error
	)
	select {
	case <-task.Done():
		viz, recErr = out.viz, out.err
	case <-budgetCtx.Done():
		if ctx.Err() != nil {
			return errInterrupted
		}
		recErr = fmt.Errorf("recommendation exceeded its %s budget", cfg.Budgets.Recommend)
	}

	if recErr != nil {
		rc.log.Warn("coordinator: recommendation failed, using table", "error", recErr)
		viz = visualize.TableOnly(&result, "Visualization is unavailable: "+recErr.Error())
		rc.emit(ctx, pipeline.Event{
			Source: pipeline.SourceRecommender,
			State:  pipeline.StateRecommending,
			Content: &pipeline.StageError{
				Kind:    pipeline.KindRecommendation,
				Stage:   pipeline.SourceRecommender,
				Message: recErr.Error(),
			},
			Error: true,
		})
	}
	rc.run.Visualization = &viz
	rc.emit(ctx, pipeline.Event{
		Source:  pipeline.SourceRecommender,
		State:   pipeline.StateRecommending,
		Content: viz,
	})
	return nil
}
