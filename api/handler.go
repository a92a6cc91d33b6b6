// Package api exposes the storygen HTTP surface: the streaming pipeline
// endpoint, the single-shot generation routes and feedback capture.
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/prompt2story/storygen/config"
	"github.com/prompt2story/storygen/llm"
	"github.com/prompt2story/storygen/pipeline"
	"github.com/prompt2story/storygen/policy"
	"github.com/prompt2story/storygen/prompts"
	"github.com/prompt2story/storygen/store"
)

// Handler handles HTTP requests.
type Handler struct {
	config       *config.Config
	client       llm.ChatClient
	store        store.Store
	policy       *policy.Engine
	prompts      *prompts.Store
	orchestrator *pipeline.Orchestrator
}

// NewHandler creates the HTTP handler and wires the pipeline.
func NewHandler(cfg *config.Config, client llm.ChatClient, st store.Store, engine *policy.Engine) *Handler {
	promptStore := prompts.NewStore(cfg.PromptsDir)
	executor := pipeline.NewExecutor(client, promptStore)
	return &Handler{
		config:       cfg,
		client:       client,
		store:        st,
		policy:       engine,
		prompts:      promptStore,
		orchestrator: pipeline.New(cfg.Stages, executor, cfg.PipelineBudget),
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.POST("/api/generate-stream", h.GenerateStream)
	e.POST("/generate-user-stories", h.GenerateUserStories)
	e.POST("/regenerate-story", h.RegenerateStory)
	e.POST("/api/feedback", h.CreateFeedback)
	e.GET("/api/feedback", h.ListFeedback)
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "ok"})
}
