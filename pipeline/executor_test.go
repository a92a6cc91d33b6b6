package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prompt2story/storygen/domain"
	"github.com/prompt2story/storygen/prompts"
)

func testStage() domain.Stage {
	stages := domain.DefaultStages()
	return stages[0] // analyst
}

func TestExecutorStreamsChunksAndParses(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{`{"requirements": `, `[{"id": "R1", "text": "login"}]}`}},
	}}
	exec := NewExecutor(client, prompts.NewStore(""))

	var deltas []string
	var lastAccumulated string
	result, err := exec.Run(context.Background(), testStage(), "Build a todo app with login", "", nil, time.Second, func(delta, accumulated string) {
		deltas = append(deltas, delta)
		lastAccumulated = accumulated
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(deltas))
	}
	if lastAccumulated != `{"requirements": [{"id": "R1", "text": "login"}]}` {
		t.Fatalf("unexpected accumulated text: %q", lastAccumulated)
	}
	if result.Output == nil || result.Duration <= 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecutorTimeoutWinsRace(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{delay: 500 * time.Millisecond, chunks: []string{`{"requirements": []}`}},
	}}
	exec := NewExecutor(client, prompts.NewStore(""))

	start := time.Now()
	_, err := exec.Run(context.Background(), testStage(), "Build a todo app with login", "", nil, 50*time.Millisecond, nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var timeoutErr *domain.StageTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected StageTimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.Role != domain.RoleAnalyst {
		t.Fatalf("timeout names stage %s, want %s", timeoutErr.Role, domain.RoleAnalyst)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("timeout did not settle promptly: %v", elapsed)
	}
}

func TestExecutorModelErrorWrapped(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{err: errors.New("upstream 502")},
	}}
	exec := NewExecutor(client, prompts.NewStore(""))

	_, err := exec.Run(context.Background(), testStage(), "Build a todo app with login", "", nil, time.Second, nil)
	var callErr *domain.ModelCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected ModelCallError, got %T: %v", err, err)
	}
}

func TestExecutorParseFailureNamesStage(t *testing.T) {
	client := &scriptedClient{steps: []scriptStep{
		{chunks: []string{"no structure here at all"}},
	}}
	exec := NewExecutor(client, prompts.NewStore(""))

	_, err := exec.Run(context.Background(), testStage(), "Build a todo app with login", "", nil, time.Second, nil)
	var parseErr *domain.StageParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected StageParseError, got %T: %v", err, err)
	}
}
