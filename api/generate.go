package api

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/prompt2story/storygen/domain"
	"github.com/prompt2story/storygen/policy"
)

// GenerateStream runs the five-stage pipeline for one request, streaming
// protocol events over SSE. Errors before the first stream byte return
// non-2xx JSON; after that the status stays 200 and all failure is
// reported in-band via pipeline-error.
// POST /api/generate-stream
func (h *Handler) GenerateStream(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	decision, reason, err := h.policy.Evaluate(ctx, policy.RequestInput{
		Description: req.Description,
		Context:     req.Context,
		RemoteIP:    c.RealIP(),
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "policy evaluation failed"})
	}
	if decision == policy.DecisionBlock {
		msg := "request blocked by policy"
		if reason != "" {
			msg += ": " + reason
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": msg})
	}

	correlationID := "run_" + uuid.New().String()[:8]
	log.Printf("INFO: run %s started (description %d chars)", correlationID, len(req.Description))

	writer, err := NewSSEWriter(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	h.orchestrator.Execute(ctx, correlationID, &req, writer.WriteEvent)

	log.Printf("INFO: run %s stream closed", correlationID)
	return nil
}
