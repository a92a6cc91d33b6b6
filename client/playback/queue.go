// Package playback re-paces server events into a steady animation
// cadence. The network can deliver frames batched; dispatching straight
// from the socket would render a whole run in one jump.
package playback

import (
	"sync"
	"time"

	"github.com/prompt2story/storygen/client/state"
	"github.com/prompt2story/storygen/domain"
)

// Dispatch receives each action when the queue decides it is due.
type Dispatch func(state.Action)

// Queue buffers actions and drains them one at a time with a per-type
// delay between dispatches. A single drain loop runs while the queue is
// non-empty; enqueueing onto an idle queue restarts it.
type Queue struct {
	mu       sync.Mutex
	items    []state.Action
	timer    *time.Timer
	draining bool
	dispatch Dispatch
	delay    func(state.Action) time.Duration
}

// NewQueue creates a queue draining into dispatch.
func NewQueue(dispatch Dispatch) *Queue {
	return &Queue{dispatch: dispatch, delay: DelayFor}
}

// Enqueue appends one action and starts the drain loop if idle.
func (q *Queue) Enqueue(a state.Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, a)
	if !q.draining {
		q.draining = true
		q.timer = time.AfterFunc(0, q.drain)
	}
}

// Stop cancels any pending drain and empties the queue. Called on abort
// and before a new run so stale animation cannot bleed across runs.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.items = nil
	q.draining = false
}

func (q *Queue) drain() {
	q.mu.Lock()
	if !q.draining || len(q.items) == 0 {
		q.draining = false
		q.mu.Unlock()
		return
	}
	a := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()

	q.dispatch(a)

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.draining {
		return
	}
	if len(q.items) == 0 {
		q.draining = false
		return
	}
	q.timer = time.AfterFunc(q.delay(a), q.drain)
}

// DelayFor returns the pause after dispatching an action. Chunk delays
// scale with text length to read like typing.
func DelayFor(a state.Action) time.Duration {
	ev := a.Event
	switch ev.Type {
	case domain.EventAgentStatus:
		var data domain.AgentStatusData
		if ev.DecodeData(&data) == nil && data.Status == domain.StageThinking {
			return 300 * time.Millisecond
		}
		return 150 * time.Millisecond
	case domain.EventAgentChunk:
		var data domain.AgentChunkData
		if ev.DecodeData(&data) != nil {
			return 12 * time.Millisecond
		}
		d := time.Duration(len(data.Text)) * 2 * time.Millisecond
		if d < 12*time.Millisecond {
			return 12 * time.Millisecond
		}
		if d > 80*time.Millisecond {
			return 80 * time.Millisecond
		}
		return d
	case domain.EventAgentComplete:
		return 400 * time.Millisecond
	case domain.EventHandoff:
		return 600 * time.Millisecond
	case domain.EventPipelineDone, domain.EventPipelineError:
		return 250 * time.Millisecond
	}
	return 0
}
