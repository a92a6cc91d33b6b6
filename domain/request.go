package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinDescriptionLen = 10
	MaxDescriptionLen = 10000
	MaxContextLen     = 5000
)

// GenerateRequest is the inbound payload for the streaming pipeline.
type GenerateRequest struct {
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
}

// Validate checks the request limits. Violations are ValidationErrors and
// are reported before any stream bytes are written.
func (r *GenerateRequest) Validate() error {
	desc := strings.TrimSpace(r.Description)
	if len(desc) < MinDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at least %d characters", MinDescriptionLen)}
	}
	if len(desc) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)}
	}
	if len(r.Context) > MaxContextLen {
		return &ValidationError{Field: "context", Reason: fmt.Sprintf("must be at most %d characters", MaxContextLen)}
	}
	return nil
}

// TextInput is the inbound payload for the single-shot generation route.
type TextInput struct {
	Text                    string `json:"text"`
	IncludeMetadata         bool   `json:"include_metadata"`
	InferEdgeCases          bool   `json:"infer_edge_cases"`
	IncludeAdvancedCriteria bool   `json:"include_advanced_criteria"`
	ExpandAllComponents     bool   `json:"expand_all_components"`
}

// Metadata is the optional per-story metadata block.
type Metadata struct {
	Priority     string `json:"priority"`
	Type         string `json:"type"`
	Component    string `json:"component"`
	Effort       string `json:"effort"`
	Persona      string `json:"persona"`
	PersonaOther string `json:"persona_other,omitempty"`
}

// UserStory is one generated story.
type UserStory struct {
	Title              string    `json:"title"`
	Story              string    `json:"story"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	Metadata           *Metadata `json:"metadata,omitempty"`
}

// GenerationResponse is the single-shot generation result.
type GenerationResponse struct {
	UserStories []UserStory `json:"user_stories"`
	EdgeCases   []string    `json:"edge_cases"`
}

// RegenerateRequest asks for one story to be regenerated and improved.
type RegenerateRequest struct {
	OriginalInput   string    `json:"original_input"`
	CurrentStory    UserStory `json:"current_story"`
	IncludeMetadata bool      `json:"include_metadata"`
}

// Feedback is a captured user rating for a run.
type Feedback struct {
	FeedbackID string    `json:"feedback_id"`
	RunID      string    `json:"run_id,omitempty"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
