package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/prompt2story/storygen/domain"
)

type feedbackRequest struct {
	RunID   string `json:"run_id,omitempty"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// CreateFeedback captures a user rating for a run.
// POST /api/feedback
func (h *Handler) CreateFeedback(c echo.Context) error {
	ctx := c.Request().Context()

	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Rating < 1 || req.Rating > 5 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "rating must be between 1 and 5"})
	}

	fb := &domain.Feedback{
		FeedbackID: "fb_" + uuid.New().String()[:8],
		RunID:      req.RunID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateFeedback(ctx, fb); err != nil {
		log.Printf("ERROR: failed to save feedback: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save feedback"})
	}

	return c.JSON(http.StatusCreated, fb)
}

// ListFeedback returns recent feedback records.
// GET /api/feedback
func (h *Handler) ListFeedback(c echo.Context) error {
	list, err := h.store.ListFeedback(c.Request().Context(), 50)
	if err != nil {
		log.Printf("ERROR: failed to list feedback: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list feedback"})
	}
	if list == nil {
		list = []domain.Feedback{}
	}
	return c.JSON(http.StatusOK, list)
}
