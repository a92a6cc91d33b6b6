package domain

import "fmt"

// ValidationError reports bad input before the stream starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError reports missing credentials or bad config at startup.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// StageTimeoutError reports a stage that lost the race against its timer.
type StageTimeoutError struct {
	Role    StageRole
	Timeout int64 // effective timeout in milliseconds
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %dms", e.Role, e.Timeout)
}

// StageParseError reports that a stage produced no recoverable
// structured block at all.
type StageParseError struct {
	Role StageRole
}

func (e *StageParseError) Error() string {
	return fmt.Sprintf("stage %s produced no structured block", e.Role)
}

// ModelCallError reports a failed model invocation.
type ModelCallError struct {
	Role StageRole
	Err  error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("stage %s model call failed: %v", e.Role, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// BudgetExhaustedError reports that no time was left before a critical stage.
type BudgetExhaustedError struct {
	Role StageRole
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted before stage %s", e.Role)
}
