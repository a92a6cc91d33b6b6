package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prompt2story/storygen/llm"
)

// scriptStep is one scripted model call. Stages run strictly
// sequentially, so call order equals stage order.
type scriptStep struct {
	chunks []string
	err    error
	delay  time.Duration // sleep before any chunk is delivered
}

// scriptedClient plays back scripted responses, one per call.
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	steps   []scriptStep
	prompts []string // user prompt of each call, in order
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	return nil, fmt.Errorf("scriptedClient: non-streaming call not scripted")
}

func (c *scriptedClient) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) error {
	c.mu.Lock()
	if c.calls >= len(c.steps) {
		c.mu.Unlock()
		return fmt.Errorf("scriptedClient: unexpected call %d", c.calls+1)
	}
	step := c.steps[c.calls]
	c.calls++
	if len(req.Messages) > 0 {
		c.prompts = append(c.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	c.mu.Unlock()

	if step.delay > 0 {
		select {
		case <-time.After(step.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if step.err != nil {
		return step.err
	}
	for _, text := range step.chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		chunk := &llm.StreamChunk{
			Choices: []llm.Choice{{Delta: &llm.ChatMessage{Role: "assistant", Content: text}}},
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return nil
}
