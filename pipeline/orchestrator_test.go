package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prompt2story/storygen/domain"
	"github.com/prompt2story/storygen/prompts"
)

const (
	analystOut    = `{"summary": "todo app", "requirements": [{"id": "R1", "text": "login"}], "risks": []}`
	strategistOut = `{"personas": [{"name": "End User", "goals": ["manage todos"]}]}`
	writerOut     = `{"user_stories": [{"title": "draft login story"}]}`
	reviewerOut   = `{"user_stories": [{"title": "reviewed login story"}], "edge_cases": ["empty password"]}`
	refinerOut    = `{"user_stories": [{"title": "final login story"}], "edge_cases": ["empty password"]}`
)

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) emit(e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) byType(t domain.EventType) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) rolesSeen() map[domain.StageRole]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.StageRole]bool)
	for _, e := range l.events {
		if e.AgentRole != "" {
			out[e.AgentRole] = true
		}
	}
	return out
}

func newTestOrchestrator(client *scriptedClient, budget time.Duration) *Orchestrator {
	exec := NewExecutor(client, prompts.NewStore(""))
	return New(domain.DefaultStages(), exec, budget)
}

func runPipeline(t *testing.T, client *scriptedClient, budget time.Duration) *eventLog {
	t.Helper()
	log := &eventLog{}
	o := newTestOrchestrator(client, budget)
	o.Execute(context.Background(), "run_test1234", &domain.GenerateRequest{
		Description: "Build a todo app with login",
	}, log.emit)
	return log
}

func TestPipelineAllStagesSucceed(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{analystOut}},
		{chunks: []string{strategistOut}},
		{chunks: []string{writerOut}},
		{chunks: []string{reviewerOut}},
		{chunks: []string{refinerOut}},
	}}

	log := runPipeline(t, client, 2*time.Minute)

	done := log.byType(domain.EventPipelineDone)
	if len(done) != 1 {
		t.Fatalf("expected 1 pipeline-done, got %d", len(done))
	}
	data := done[0].Data.(domain.PipelineDoneData)
	if !strings.Contains(string(data.FinalOutput), "final login story") {
		t.Fatalf("final output is not the refiner output: %s", data.FinalOutput)
	}
	if len(data.AgentSummaries) != 5 {
		t.Fatalf("expected 5 summaries, got %d", len(data.AgentSummaries))
	}
	for _, s := range data.AgentSummaries {
		if s.Status != domain.StageComplete {
			t.Fatalf("stage %s status %s, want complete", s.Agent, s.Status)
		}
	}
	if handoffs := log.byType(domain.EventHandoff); len(handoffs) != 4 {
		t.Fatalf("expected 4 handoffs, got %d", len(handoffs))
	}
	if chunks := log.byType(domain.EventAgentChunk); len(chunks) == 0 {
		t.Fatalf("expected streamed chunk events")
	}
	if client.callCount() != 5 {
		t.Fatalf("expected 5 model calls, got %d", client.callCount())
	}
}

func TestPipelineNonCriticalFailureDegrades(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{analystOut}},
		{chunks: []string{strategistOut}},
		{chunks: []string{writerOut}},
		{err: errors.New("upstream 502")},
		{chunks: []string{refinerOut}},
	}}

	log := runPipeline(t, client, 2*time.Minute)

	done := log.byType(domain.EventPipelineDone)
	if len(done) != 1 {
		t.Fatalf("expected pipeline-done, got %d (errors: %d)", len(done), len(log.byType(domain.EventPipelineError)))
	}
	data := done[0].Data.(domain.PipelineDoneData)
	var reviewerStatus domain.StageStatus
	for _, s := range data.AgentSummaries {
		if s.Agent == domain.RoleReviewer {
			reviewerStatus = s.Status
		}
	}
	if reviewerStatus != domain.StageError {
		t.Fatalf("reviewer summary status %s, want error", reviewerStatus)
	}
	if client.callCount() != 5 {
		t.Fatalf("run did not reach the refiner: %d calls", client.callCount())
	}

	// The refiner's narrowed context carries the draft but not the
	// failed reviewer's output.
	refinerPrompt := client.prompts[4]
	if !strings.Contains(refinerPrompt, "draft login story") {
		t.Fatalf("refiner prompt missing draft output")
	}
	if strings.Contains(refinerPrompt, "reviewed login story") {
		t.Fatalf("refiner prompt leaked failed reviewer output")
	}
}

func TestPipelineCriticalFailureTerminates(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{analystOut}},
		{chunks: []string{strategistOut}},
		{err: errors.New("upstream 502")},
	}}

	log := runPipeline(t, client, 2*time.Minute)

	errs := log.byType(domain.EventPipelineError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 pipeline-error, got %d", len(errs))
	}
	data := errs[0].Data.(domain.PipelineErrorData)
	if data.FailedAgent != domain.RoleWriter {
		t.Fatalf("pipeline-error names %s, want %s", data.FailedAgent, domain.RoleWriter)
	}
	if _, ok := data.PartialOutput[domain.KeyAnalysis]; !ok {
		t.Fatalf("partial output missing analysis")
	}
	if _, ok := data.PartialOutput[domain.KeyPersonas]; !ok {
		t.Fatalf("partial output missing personas")
	}
	if len(log.byType(domain.EventPipelineDone)) != 0 {
		t.Fatalf("pipeline-done emitted after critical failure")
	}
	roles := log.rolesSeen()
	if roles[domain.RoleReviewer] || roles[domain.RoleRefiner] {
		t.Fatalf("stages after the critical failure emitted events")
	}
	if client.callCount() != 3 {
		t.Fatalf("expected 3 model calls, got %d", client.callCount())
	}
}

func TestPipelineBudgetExhaustedBeforeCriticalStage(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{delay: 300 * time.Millisecond, chunks: []string{analystOut}},
	}}

	// After the analyst finishes, less than 3s of budget remains before
	// the critical strategist can start.
	log := runPipeline(t, client, 3100*time.Millisecond)

	errs := log.byType(domain.EventPipelineError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 pipeline-error, got %d", len(errs))
	}
	data := errs[0].Data.(domain.PipelineErrorData)
	if data.FailedAgent != domain.RoleStrategist {
		t.Fatalf("pipeline-error names %s, want %s", data.FailedAgent, domain.RoleStrategist)
	}
	if !strings.Contains(data.Error, "budget exhausted") {
		t.Fatalf("error message %q does not mention budget exhaustion", data.Error)
	}
	if client.callCount() != 1 {
		t.Fatalf("strategist was invoked: %d calls", client.callCount())
	}
}

func TestPipelineSkipsNonCriticalWhenBudgetLow(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{delay: 40 * time.Millisecond, chunks: []string{analystOut}},
		{delay: 40 * time.Millisecond, chunks: []string{strategistOut}},
		{delay: 700 * time.Millisecond, chunks: []string{writerOut}},
	}}

	// Budget runs low after the writer; the two non-critical tail
	// stages are skipped and the run still completes.
	log := runPipeline(t, client, 3600*time.Millisecond)

	done := log.byType(domain.EventPipelineDone)
	if len(done) != 1 {
		t.Fatalf("expected pipeline-done, got %d (errors: %d)", len(done), len(log.byType(domain.EventPipelineError)))
	}
	data := done[0].Data.(domain.PipelineDoneData)
	if !strings.Contains(string(data.FinalOutput), "draft login story") {
		t.Fatalf("final output should fall back to the draft: %s", data.FinalOutput)
	}

	skipped := 0
	for _, e := range log.byType(domain.EventAgentStatus) {
		if e.Data.(domain.AgentStatusData).Status == domain.StageSkipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped stages, got %d", skipped)
	}
	if client.callCount() != 3 {
		t.Fatalf("skipped stages were invoked: %d calls", client.callCount())
	}
}

func TestEffectiveTimeout(t *testing.T) {
	stage := domain.DefaultStages()[0] // 30s ceiling

	// Plenty of budget: the ceiling binds.
	if got := effectiveTimeout(stage, 2*time.Minute); got != stage.TimeoutCeiling {
		t.Fatalf("timeout = %v, want ceiling %v", got, stage.TimeoutCeiling)
	}
	// Exactly ceiling + reserve remaining: still ceiling-bound.
	if got := effectiveTimeout(stage, stage.TimeoutCeiling+2*time.Second); got != stage.TimeoutCeiling {
		t.Fatalf("timeout = %v, want ceiling %v", got, stage.TimeoutCeiling)
	}
	// Low budget: remaining minus the 2s report reserve binds.
	if got := effectiveTimeout(stage, 10*time.Second); got != 8*time.Second {
		t.Fatalf("timeout = %v, want 8s", got)
	}
}

func TestPipelineStageTimeoutCappedByRemainingBudget(t *testing.T) {
	// The analyst's 30s ceiling must not apply here: with a 3.2s budget
	// the effective timeout is about 1.2s, so a slow stage settles as a
	// timeout well before either the ceiling or the scripted delay.
	client := &scriptedClient{steps: []scriptStep{
		{delay: 2 * time.Second, chunks: []string{analystOut}},
	}}

	start := time.Now()
	log := runPipeline(t, client, 3200*time.Millisecond)
	settled := time.Since(start)

	errs := log.byType(domain.EventPipelineError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 pipeline-error, got %d", len(errs))
	}
	data := errs[0].Data.(domain.PipelineErrorData)
	if data.FailedAgent != domain.RoleAnalyst {
		t.Fatalf("pipeline-error names %s, want %s", data.FailedAgent, domain.RoleAnalyst)
	}
	if !strings.Contains(data.Error, "timed out") {
		t.Fatalf("error %q is not a timeout", data.Error)
	}
	if settled >= 1900*time.Millisecond {
		t.Fatalf("stage ran past the budget-capped timeout: settled after %v", settled)
	}
}

func TestPipelineChunkEmitFailureStopsRun(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{analystOut}},
		{chunks: []string{strategistOut}},
		{chunks: []string{writerOut}},
		{chunks: []string{reviewerOut}},
		{chunks: []string{refinerOut}},
	}}
	o := newTestOrchestrator(client, 2*time.Minute)

	// The client vanishes while the first stage is streaming: chunk
	// writes fail but status writes still land.
	log := &eventLog{}
	o.Execute(context.Background(), "run_gone5678", &domain.GenerateRequest{
		Description: "Build a todo app with login",
	}, func(e domain.Event) error {
		if e.Type == domain.EventAgentChunk {
			return errors.New("client went away")
		}
		return log.emit(e)
	})

	if client.callCount() != 1 {
		t.Fatalf("run continued past the dead connection: %d calls", client.callCount())
	}
	if len(log.byType(domain.EventPipelineDone)) != 0 {
		t.Fatalf("pipeline-done emitted to a dead client")
	}
	if len(log.byType(domain.EventAgentComplete)) != 0 {
		t.Fatalf("agent-complete emitted after the chunk write failed")
	}
}

func TestPipelineEmitErrorStopsRun(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{analystOut}},
	}}
	o := newTestOrchestrator(client, 2*time.Minute)

	calls := 0
	o.Execute(context.Background(), "run_gone1234", &domain.GenerateRequest{
		Description: "Build a todo app with login",
	}, func(domain.Event) error {
		calls++
		return errors.New("client went away")
	})

	if client.callCount() > 1 {
		t.Fatalf("run continued after emit failure: %d calls", client.callCount())
	}
}
