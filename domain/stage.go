// Package domain defines the core domain models for the storygen pipeline.
package domain

import "time"

// StageRole identifies one stage of the fixed pipeline.
type StageRole string

const (
	RoleAnalyst    StageRole = "analyst"
	RoleStrategist StageRole = "strategist"
	RoleWriter     StageRole = "writer"
	RoleReviewer   StageRole = "reviewer"
	RoleRefiner    StageRole = "refiner"
)

// Stage is the immutable configuration of one pipeline stage.
// The stage list is fixed at process start and never mutated.
type Stage struct {
	Role           StageRole
	Index          int
	Title          string
	Tagline        string
	Template       string // template name in the prompt store
	TimeoutCeiling time.Duration
	MaxTokens      int
	Model          string
	Critical       bool
	DependsOn      []OutputKey // accumulator keys this stage may read
	Handoff        string      // transition message to the next stage; empty uses the default
}

// DefaultStages returns the built-in five-stage pipeline.
func DefaultStages() []Stage {
	return []Stage{
		{
			Role:           RoleAnalyst,
			Index:          0,
			Title:          "Requirements Analyst",
			Tagline:        "Breaking the input down into concrete requirements",
			Template:       "analyst",
			TimeoutCeiling: 30 * time.Second,
			MaxTokens:      2000,
			Model:          "gpt-4o-mini",
			Critical:       true,
			DependsOn:      nil,
			Handoff:        "Requirements mapped. Passing the analysis to the strategist.",
		},
		{
			Role:           RoleStrategist,
			Index:          1,
			Title:          "Persona Strategist",
			Tagline:        "Identifying who this is for and what they need",
			Template:       "strategist",
			TimeoutCeiling: 30 * time.Second,
			MaxTokens:      1500,
			Model:          "gpt-4o-mini",
			Critical:       true,
			DependsOn:      []OutputKey{KeyAnalysis},
			Handoff:        "Personas defined. The writer takes it from here.",
		},
		{
			Role:           RoleWriter,
			Index:          2,
			Title:          "Story Writer",
			Tagline:        "Drafting user stories with acceptance criteria",
			Template:       "writer",
			TimeoutCeiling: 45 * time.Second,
			MaxTokens:      4000,
			Model:          "gpt-4o",
			Critical:       true,
			DependsOn:      []OutputKey{KeyAnalysis, KeyPersonas},
			Handoff:        "Draft stories ready. Sending them for review.",
		},
		{
			Role:           RoleReviewer,
			Index:          3,
			Title:          "Edge Case Reviewer",
			Tagline:        "Probing for gaps, edge cases and failure modes",
			Template:       "reviewer",
			TimeoutCeiling: 30 * time.Second,
			MaxTokens:      3000,
			Model:          "gpt-4o-mini",
			Critical:       false,
			DependsOn:      []OutputKey{KeyAnalysis, KeyDraft},
			Handoff:        "Review complete. Handing off for the final polish.",
		},
		{
			Role:           RoleRefiner,
			Index:          4,
			Title:          "Story Refiner",
			Tagline:        "Polishing the final story set",
			Template:       "refiner",
			TimeoutCeiling: 30 * time.Second,
			MaxTokens:      4000,
			Model:          "gpt-4o",
			Critical:       false,
			DependsOn:      []OutputKey{KeyDraft, KeyReview},
		},
	}
}
