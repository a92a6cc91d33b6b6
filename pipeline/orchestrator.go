package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/prompt2story/storygen/domain"
)

const (
	// minStageBudget is the least remaining budget worth dispatching a
	// stage with. Below it, non-critical stages are skipped and critical
	// stages fail the run.
	minStageBudget = 3 * time.Second

	// reportReserve is held back from every stage timeout so a stage
	// that times out late still leaves room to report results.
	reportReserve = 2 * time.Second
)

// EmitFunc delivers one protocol event to the transport. A non-nil
// error means the client is gone and the run should stop.
type EmitFunc func(domain.Event) error

// Orchestrator runs the fixed stage sequence for one request at a time,
// tracking the global budget and applying criticality-based failure
// policy. Stages execute strictly sequentially: each stage's narrowed
// context depends on the prior stage having committed its output.
type Orchestrator struct {
	stages   []domain.Stage
	executor *Executor
	budget   time.Duration
}

// New creates an orchestrator over the given stage list.
func New(stages []domain.Stage, executor *Executor, budget time.Duration) *Orchestrator {
	return &Orchestrator{stages: stages, executor: executor, budget: budget}
}

// Execute runs the whole pipeline for one request, emitting protocol
// events in order. It always ends with exactly one terminal event
// (pipeline-done or pipeline-error) unless the client aborts first.
func (o *Orchestrator) Execute(ctx context.Context, correlationID string, req *domain.GenerateRequest, emit EmitFunc) {
	run := &domain.Run{
		CorrelationID: correlationID,
		StartedAt:     time.Now(),
		Budget:        o.budget,
	}
	acc := &domain.Accumulator{}

	send := func(t domain.EventType, role domain.StageRole, data interface{}) error {
		return emit(domain.Event{
			Type:          t,
			AgentRole:     role,
			Data:          data,
			Timestamp:     time.Now().UnixMilli(),
			CorrelationID: correlationID,
		})
	}

	for i, stage := range o.stages {
		if ctx.Err() != nil {
			log.Printf("INFO: run %s aborted by client before stage %s", correlationID, stage.Role)
			return
		}

		remaining := run.Remaining()
		if remaining < minStageBudget {
			if stage.Critical {
				budgetErr := &domain.BudgetExhaustedError{Role: stage.Role}
				log.Printf("ERROR: run %s: %v (remaining %dms)", correlationID, budgetErr, remaining.Milliseconds())
				send(domain.EventPipelineError, stage.Role, domain.PipelineErrorData{
					FailedAgent:   stage.Role,
					Error:         budgetErr.Error(),
					PartialOutput: acc.Snapshot(),
				})
				return
			}
			log.Printf("WARN: run %s: skipping non-critical stage %s (remaining %dms)", correlationID, stage.Role, remaining.Milliseconds())
			if err := send(domain.EventAgentStatus, stage.Role, domain.AgentStatusData{
				Status:  domain.StageSkipped,
				Message: "skipped: time budget exhausted",
			}); err != nil {
				return
			}
			run.Record(stage.Role, domain.StageSkipped, 0)
			continue
		}

		stageTimeout := effectiveTimeout(stage, remaining)

		if err := send(domain.EventAgentStatus, stage.Role, domain.AgentStatusData{
			Status:  domain.StageThinking,
			Message: stage.Tagline,
		}); err != nil {
			return
		}

		narrowed := acc.Narrow(stage.DependsOn)
		stageStart := time.Now()
		var chunkEmitFailed atomic.Bool
		result, stageErr := o.executor.Run(ctx, stage, req.Description, req.Context, narrowed, stageTimeout, func(delta, accumulated string) {
			if chunkEmitFailed.Load() {
				return
			}
			if err := send(domain.EventAgentChunk, stage.Role, domain.AgentChunkData{
				Text:        delta,
				Accumulated: accumulated,
			}); err != nil {
				chunkEmitFailed.Store(true)
			}
		})

		if chunkEmitFailed.Load() {
			log.Printf("INFO: run %s client disconnected during stage %s", correlationID, stage.Role)
			return
		}

		if stageErr != nil {
			log.Printf("ERROR: run %s: stage %s failed: %v", correlationID, stage.Role, stageErr)
			if err := send(domain.EventAgentStatus, stage.Role, domain.AgentStatusData{
				Status:  domain.StageError,
				Message: stageErr.Error(),
			}); err != nil {
				return
			}
			run.Record(stage.Role, domain.StageError, time.Since(stageStart))

			if stage.Critical {
				send(domain.EventPipelineError, stage.Role, domain.PipelineErrorData{
					FailedAgent:   stage.Role,
					Error:         stageErr.Error(),
					PartialOutput: acc.Snapshot(),
				})
				return
			}

			// Non-critical failure degrades; the run proceeds.
			if i < len(o.stages)-1 {
				if err := o.handoff(send, stage, o.stages[i+1]); err != nil {
					return
				}
			}
			continue
		}

		key := domain.OutputKeyFor(stage.Role)
		if err := acc.Set(key, result.Output); err != nil {
			// Unreachable with a well-formed stage table; treated as a
			// stage failure so the invariant holds.
			log.Printf("ERROR: run %s: %v", correlationID, err)
			send(domain.EventPipelineError, stage.Role, domain.PipelineErrorData{
				FailedAgent:   stage.Role,
				Error:         err.Error(),
				PartialOutput: acc.Snapshot(),
			})
			return
		}

		if err := send(domain.EventAgentComplete, stage.Role, domain.AgentCompleteData{
			Status:     domain.StageComplete,
			Output:     result.Output,
			DurationMs: result.Duration.Milliseconds(),
		}); err != nil {
			return
		}
		run.Record(stage.Role, domain.StageComplete, result.Duration)

		if i < len(o.stages)-1 {
			if err := o.handoff(send, stage, o.stages[i+1]); err != nil {
				return
			}
		}
	}

	send(domain.EventPipelineDone, "", domain.PipelineDoneData{
		TotalDurationMs: run.Elapsed().Milliseconds(),
		FinalOutput:     finalOutput(acc),
		AgentSummaries:  run.Summaries,
	})
}

// effectiveTimeout caps a stage's timeout ceiling by the remaining
// budget less the report reserve, so a late timeout still leaves room
// to report results.
func effectiveTimeout(stage domain.Stage, remaining time.Duration) time.Duration {
	timeout := stage.TimeoutCeiling
	if capped := remaining - reportReserve; capped < timeout {
		timeout = capped
	}
	return timeout
}

func (o *Orchestrator) handoff(send func(domain.EventType, domain.StageRole, interface{}) error, from, to domain.Stage) error {
	msg := from.Handoff
	if msg == "" {
		msg = fmt.Sprintf("%s handing off to %s", from.Role, to.Role)
	}
	return send(domain.EventHandoff, from.Role, domain.HandoffData{
		FromAgent: from.Role,
		ToAgent:   to.Role,
		Message:   msg,
	})
}

// finalOutput selects the last successfully produced refinement of the
// story set, walking back when the tail stages were skipped or errored.
func finalOutput(acc *domain.Accumulator) json.RawMessage {
	for _, key := range []domain.OutputKey{domain.KeyFinal, domain.KeyReview, domain.KeyDraft} {
		if v := acc.Get(key); v != nil {
			return v
		}
	}
	return nil
}
