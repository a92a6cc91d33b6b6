package domain

import (
	"encoding/json"
	"fmt"
)

// OutputKey names a stage output slot in the accumulator.
type OutputKey string

const (
	KeyAnalysis OutputKey = "analysis"
	KeyPersonas OutputKey = "personas"
	KeyDraft    OutputKey = "draft"
	KeyReview   OutputKey = "review"
	KeyFinal    OutputKey = "final"
)

// OutputKeyFor maps a stage role to the accumulator key it owns.
func OutputKeyFor(role StageRole) OutputKey {
	switch role {
	case RoleAnalyst:
		return KeyAnalysis
	case RoleStrategist:
		return KeyPersonas
	case RoleWriter:
		return KeyDraft
	case RoleReviewer:
		return KeyReview
	case RoleRefiner:
		return KeyFinal
	}
	return ""
}

// Accumulator holds stage outputs for one run. One field per output key,
// written at most once by the owning stage after it succeeds. The
// orchestrator is the only writer; stages read through Narrow.
type Accumulator struct {
	analysis json.RawMessage
	personas json.RawMessage
	draft    json.RawMessage
	review   json.RawMessage
	final    json.RawMessage
}

// Set writes a stage output. It fails if the key is unknown or already set.
func (a *Accumulator) Set(key OutputKey, value json.RawMessage) error {
	slot, err := a.slot(key)
	if err != nil {
		return err
	}
	if *slot != nil {
		return fmt.Errorf("accumulator key %q already written", key)
	}
	*slot = value
	return nil
}

// Get returns the value for a key, or nil when unset.
func (a *Accumulator) Get(key OutputKey) json.RawMessage {
	slot, err := a.slot(key)
	if err != nil {
		return nil
	}
	return *slot
}

// Narrow returns only the declared keys that have been written.
// This is the allow-list a stage is permitted to read, never the
// full accumulator.
func (a *Accumulator) Narrow(keys []OutputKey) map[OutputKey]json.RawMessage {
	out := make(map[OutputKey]json.RawMessage, len(keys))
	for _, k := range keys {
		if v := a.Get(k); v != nil {
			out[k] = v
		}
	}
	return out
}

// Snapshot returns every written key. Used for the partialOutput field
// of a pipeline-error event.
func (a *Accumulator) Snapshot() map[OutputKey]json.RawMessage {
	out := make(map[OutputKey]json.RawMessage)
	for _, k := range []OutputKey{KeyAnalysis, KeyPersonas, KeyDraft, KeyReview, KeyFinal} {
		if v := a.Get(k); v != nil {
			out[k] = v
		}
	}
	return out
}

func (a *Accumulator) slot(key OutputKey) (*json.RawMessage, error) {
	switch key {
	case KeyAnalysis:
		return &a.analysis, nil
	case KeyPersonas:
		return &a.personas, nil
	case KeyDraft:
		return &a.draft, nil
	case KeyReview:
		return &a.review, nil
	case KeyFinal:
		return &a.final, nil
	}
	return nil, fmt.Errorf("unknown accumulator key %q", key)
}
