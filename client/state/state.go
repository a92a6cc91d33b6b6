// Package state models the client's view of a run as a pure reducer.
// Reduce never mutates its input; callers always replace their snapshot
// with the returned one.
package state

import (
	"encoding/json"

	"github.com/prompt2story/storygen/domain"
)

// PipelineStatus is the run-level status on the client.
type PipelineStatus string

const (
	PipelineIdle     PipelineStatus = "idle"
	PipelineRunning  PipelineStatus = "running"
	PipelineComplete PipelineStatus = "complete"
	PipelineError    PipelineStatus = "error"
	PipelineAborted  PipelineStatus = "aborted"
)

// ActionType discriminates reducer actions. Protocol events map one to
// one onto action types; the rest are local to the client.
type ActionType string

const (
	ActionRunStarted ActionType = "run-started"
	ActionAbort      ActionType = "abort"
	ActionReset      ActionType = "reset"
	ActionTick       ActionType = "tick"
)

// Action is one reducer input. Event is set for protocol-event actions;
// NowMs is set for run-started and tick, BudgetMs for run-started.
type Action struct {
	Type     ActionType
	Event    domain.Event
	NowMs    int64
	BudgetMs int64
}

// EventAction wraps a protocol event as a reducer action.
func EventAction(ev domain.Event) Action {
	return Action{Type: ActionType(ev.Type), Event: ev}
}

// StageView is the rendered state of one stage.
type StageView struct {
	Status     domain.StageStatus
	Text       string
	DurationMs int64
	Error      string
}

// State is one immutable snapshot of a run.
type State struct {
	Status        PipelineStatus
	CorrelationID string
	StartedAtMs   int64
	ElapsedMs     int64
	BudgetMs      int64
	Order         []domain.StageRole
	Stages        map[domain.StageRole]StageView
	Handoffs      []string // ordered handoff-message log, append-only
	FinalOutput   json.RawMessage
	Error         string
	Summaries     []domain.StageSummary
}

// LastHandoff returns the newest handoff message, or "" before the
// first handoff.
func (s State) LastHandoff() string {
	if len(s.Handoffs) == 0 {
		return ""
	}
	return s.Handoffs[len(s.Handoffs)-1]
}

// NewState returns the idle snapshot for the given stage order.
func NewState(order []domain.StageRole) State {
	stages := make(map[domain.StageRole]StageView, len(order))
	for _, role := range order {
		stages[role] = StageView{Status: domain.StageWaiting}
	}
	return State{
		Status: PipelineIdle,
		Order:  append([]domain.StageRole(nil), order...),
		Stages: stages,
	}
}

// Reduce applies one action and returns the next snapshot.
func Reduce(s State, a Action) State {
	switch a.Type {
	case ActionReset:
		return NewState(s.Order)
	case ActionRunStarted:
		next := NewState(s.Order)
		next.Status = PipelineRunning
		next.StartedAtMs = a.NowMs
		next.BudgetMs = a.BudgetMs
		return next
	case ActionAbort:
		if s.Status != PipelineRunning {
			return s
		}
		next := s
		next.Status = PipelineAborted
		return next
	case ActionTick:
		if s.Status != PipelineRunning {
			return s
		}
		next := s
		next.ElapsedMs = a.NowMs - s.StartedAtMs
		return next
	}

	// Stage state only evolves while the run is live.
	if s.Status != PipelineRunning {
		return s
	}
	next := s
	if next.CorrelationID == "" {
		next.CorrelationID = a.Event.CorrelationID
	}

	switch a.Event.Type {
	case domain.EventAgentStatus:
		var data domain.AgentStatusData
		if a.Event.DecodeData(&data) != nil {
			return s
		}
		return next.withStage(a.Event.AgentRole, func(v StageView) StageView {
			if v.Status.Terminal() || data.Status == domain.StageWaiting {
				return v
			}
			v.Status = data.Status
			if data.Status == domain.StageError {
				v.Error = data.Message
			}
			return v
		})
	case domain.EventAgentChunk:
		var data domain.AgentChunkData
		if a.Event.DecodeData(&data) != nil {
			return s
		}
		return next.withStage(a.Event.AgentRole, func(v StageView) StageView {
			if v.Status.Terminal() {
				return v
			}
			v.Text = data.Accumulated
			if v.Status == domain.StageWaiting {
				v.Status = domain.StageThinking
			}
			return v
		})
	case domain.EventAgentComplete:
		var data domain.AgentCompleteData
		if a.Event.DecodeData(&data) != nil {
			return s
		}
		return next.withStage(a.Event.AgentRole, func(v StageView) StageView {
			if v.Status.Terminal() {
				return v
			}
			v.Status = domain.StageComplete
			v.DurationMs = data.DurationMs
			return v
		})
	case domain.EventHandoff:
		var data domain.HandoffData
		if a.Event.DecodeData(&data) != nil {
			return s
		}
		// Copy before appending so the previous snapshot keeps its log.
		next.Handoffs = append(append([]string(nil), s.Handoffs...), data.Message)
		return next
	case domain.EventPipelineDone:
		var data domain.PipelineDoneData
		if a.Event.DecodeData(&data) != nil {
			return s
		}
		next.Status = PipelineComplete
		next.ElapsedMs = data.TotalDurationMs
		next.FinalOutput = data.FinalOutput
		next.Summaries = data.AgentSummaries
		return next
	case domain.EventPipelineError:
		var data domain.PipelineErrorData
		if a.Event.DecodeData(&data) != nil {
			return s
		}
		next.Status = PipelineError
		next.Error = data.Error
		return next.withStage(data.FailedAgent, func(v StageView) StageView {
			if v.Status.Terminal() {
				return v
			}
			v.Status = domain.StageError
			v.Error = data.Error
			return v
		})
	}
	return s
}

// withStage copies the stage map before updating one entry so the
// previous snapshot stays untouched.
func (s State) withStage(role domain.StageRole, update func(StageView) StageView) State {
	if _, ok := s.Stages[role]; !ok {
		return s
	}
	stages := make(map[domain.StageRole]StageView, len(s.Stages))
	for k, v := range s.Stages {
		stages[k] = v
	}
	stages[role] = update(stages[role])
	s.Stages = stages
	return s
}
