package domain

import "encoding/json"

// EventType represents the type of a protocol event.
type EventType string

const (
	EventAgentStatus   EventType = "agent-status"
	EventAgentChunk    EventType = "agent-chunk"
	EventAgentComplete EventType = "agent-complete"
	EventHandoff       EventType = "handoff"
	EventPipelineDone  EventType = "pipeline-done"
	EventPipelineError EventType = "pipeline-error"
)

// StageStatus is the client-visible status of one stage.
type StageStatus string

const (
	StageWaiting  StageStatus = "waiting"
	StageThinking StageStatus = "thinking"
	StageComplete StageStatus = "complete"
	StageError    StageStatus = "error"
	StageSkipped  StageStatus = "skipped"
)

// Terminal reports whether a stage status is final.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageComplete, StageError, StageSkipped:
		return true
	}
	return false
}

// Event is one protocol event as emitted by the orchestrator and
// serialized onto the stream. Events are strictly ordered; the transport
// never reorders or merges them.
type Event struct {
	Type          EventType   `json:"type"`
	AgentRole     StageRole   `json:"agentRole"`
	Data          interface{} `json:"data"`
	Timestamp     int64       `json:"timestamp"`
	CorrelationID string      `json:"correlationId"`
}

// DecodeData unmarshals the event payload into v. Needed on the client
// side, where Data arrives as a generic decoded JSON value.
func (e Event) DecodeData(v interface{}) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// AgentStatusData is the payload of an agent-status event.
type AgentStatusData struct {
	Status  StageStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// AgentChunkData carries one streamed text delta plus the text so far.
type AgentChunkData struct {
	Text        string `json:"text"`
	Accumulated string `json:"accumulated"`
}

// AgentCompleteData is the payload of an agent-complete event.
type AgentCompleteData struct {
	Status     StageStatus     `json:"status"`
	Output     json.RawMessage `json:"output"`
	DurationMs int64           `json:"durationMs"`
}

// HandoffData names the transition between two adjacent stages.
type HandoffData struct {
	FromAgent StageRole `json:"fromAgent"`
	ToAgent   StageRole `json:"toAgent"`
	Message   string    `json:"message"`
}

// PipelineDoneData is the payload of the terminal pipeline-done event.
type PipelineDoneData struct {
	TotalDurationMs int64           `json:"totalDurationMs"`
	FinalOutput     json.RawMessage `json:"finalOutput"`
	AgentSummaries  []StageSummary  `json:"agentSummaries"`
}

// PipelineErrorData is the payload of the terminal pipeline-error event.
type PipelineErrorData struct {
	FailedAgent   StageRole                     `json:"failedAgent"`
	Error         string                        `json:"error"`
	PartialOutput map[OutputKey]json.RawMessage `json:"partialOutput,omitempty"`
}
