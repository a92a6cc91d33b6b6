package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/prompt2story/storygen/domain"
	"github.com/prompt2story/storygen/llm"
	"github.com/prompt2story/storygen/prompts"
)

// ChunkFunc receives each streamed text delta together with the text
// accumulated so far. Partial text stays visible downstream even when
// the stage later fails.
type ChunkFunc func(delta, accumulated string)

// StageResult is the outcome of one successful stage.
type StageResult struct {
	Output   json.RawMessage
	RawText  string
	Duration time.Duration
}

// Executor invokes the model for one stage, streams tokens and races
// the consumption loop against the effective timeout.
type Executor struct {
	client  llm.ChatClient
	prompts *prompts.Store
}

// NewExecutor creates a stage executor.
func NewExecutor(client llm.ChatClient, store *prompts.Store) *Executor {
	return &Executor{client: client, prompts: store}
}

type streamOutcome struct {
	text string
	err  error
}

// Run executes one stage. narrowed must already be the stage's
// allow-listed view of the accumulator; the executor never sees more.
// Whichever settles first, stream completion or the timer, decides
// the outcome. On timeout the stage context is cancelled so the losing
// network read is released, and chunk forwarding stops.
func (e *Executor) Run(ctx context.Context, stage domain.Stage, input, extra string, narrowed map[domain.OutputKey]json.RawMessage, timeout time.Duration, onChunk ChunkFunc) (*StageResult, error) {
	prompt, err := e.prompts.RenderStage(stage, input, extra, narrowed)
	if err != nil {
		return nil, &domain.ModelCallError{Role: stage.Role, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	stopped := false
	forward := func(delta, accumulated string) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || onChunk == nil {
			return
		}
		onChunk(delta, accumulated)
	}

	started := time.Now()
	maxTokens := stage.MaxTokens
	temperature := 0.2
	req := &llm.ChatCompletionRequest{
		Model:       stage.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "You are " + stage.Title + ". Output only valid JSON."},
			{Role: "user", Content: prompt},
		},
	}

	outcome := make(chan streamOutcome, 1)
	go func() {
		var buf strings.Builder
		err := e.client.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
			delta := chunk.DeltaText()
			if delta == "" {
				return nil
			}
			buf.WriteString(delta)
			forward(delta, buf.String())
			return nil
		})
		outcome <- streamOutcome{text: buf.String(), err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-outcome:
		if o.err != nil {
			return nil, &domain.ModelCallError{Role: stage.Role, Err: o.err}
		}
		output, err := ParseOutput(stage.Role, o.text)
		if err != nil {
			return nil, err
		}
		return &StageResult{
			Output:   output,
			RawText:  o.text,
			Duration: time.Since(started),
		}, nil

	case <-timer.C:
		mu.Lock()
		stopped = true
		mu.Unlock()
		cancel()
		return nil, &domain.StageTimeoutError{Role: stage.Role, Timeout: timeout.Milliseconds()}
	}
}
