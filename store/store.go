// Package store persists captured user feedback. Pipeline run state is
// never stored; a run lives entirely in its request's memory.
package store

import (
	"context"

	"github.com/prompt2story/storygen/domain"
)

// Store is the feedback persistence interface.
type Store interface {
	CreateFeedback(ctx context.Context, fb *domain.Feedback) error
	ListFeedback(ctx context.Context, limit int) ([]domain.Feedback, error)
	Close() error
}
