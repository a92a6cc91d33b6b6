// Package config provides configuration for the storygen server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/prompt2story/storygen/domain"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort       int
	AllowedOrigins []string // empty means permissive CORS
	RateLimit      float64  // requests per second per client IP

	// LLM settings
	LLMBaseURL string
	LLMAPIKey  string
	LLMTimeout time.Duration
	TextModel  string // fallback model for plain calls
	JSONModel  string // model used with JSON response format

	// Pipeline settings
	PipelineBudget time.Duration
	Stages         []domain.Stage

	// Paths
	PromptsDir   string
	DatabasePath string
	PolicyPath   string
}

// Load loads configuration from environment variables, applying an
// optional YAML stage override from PIPELINE_CONFIG. A missing LLM API
// key is a ConfigurationError.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		RateLimit:      float64(getEnvInt("RATE_LIMIT_RPS", 10)),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMTimeout:     time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		TextModel:      getEnv("TEXT_MODEL", "gpt-4o"),
		JSONModel:      getEnv("JSON_MODEL", "gpt-4o-mini"),
		PipelineBudget: time.Duration(getEnvInt("PIPELINE_BUDGET_MS", 120000)) * time.Millisecond,
		PromptsDir:     getEnv("PROMPTS_DIR", "prompts/templates"),
		DatabasePath:   getEnv("DATABASE_PATH", "storygen.db"),
		PolicyPath:     os.Getenv("POLICY_PATH"),
		Stages:         domain.DefaultStages(),
	}

	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.LLMAPIKey == "" {
		return nil, &domain.ConfigurationError{Reason: "LLM_API_KEY is not set; copy .env.example to .env and add your API key"}
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := applyStageOverrides(cfg, path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// stageOverride is one per-role override entry in the pipeline YAML.
type stageOverride struct {
	Role      string `yaml:"role"`
	TimeoutMs int    `yaml:"timeout_ms"`
	MaxTokens int    `yaml:"max_tokens"`
	Model     string `yaml:"model"`
	Critical  *bool  `yaml:"critical"`
	Handoff   string `yaml:"handoff"`
}

type pipelineFile struct {
	BudgetMs int             `yaml:"budget_ms"`
	Stages   []stageOverride `yaml:"stages"`
}

// applyStageOverrides merges a YAML pipeline file over the built-in
// stage table. Only named fields are overridden; the stage list itself
// (roles, order, dependencies) is fixed.
func applyStageOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.ConfigurationError{Reason: fmt.Sprintf("cannot read pipeline config %s: %v", path, err)}
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return &domain.ConfigurationError{Reason: fmt.Sprintf("cannot parse pipeline config %s: %v", path, err)}
	}

	if pf.BudgetMs > 0 {
		cfg.PipelineBudget = time.Duration(pf.BudgetMs) * time.Millisecond
	}

	byRole := make(map[domain.StageRole]stageOverride, len(pf.Stages))
	for _, o := range pf.Stages {
		byRole[domain.StageRole(o.Role)] = o
	}
	for i := range cfg.Stages {
		o, ok := byRole[cfg.Stages[i].Role]
		if !ok {
			continue
		}
		if o.TimeoutMs > 0 {
			cfg.Stages[i].TimeoutCeiling = time.Duration(o.TimeoutMs) * time.Millisecond
		}
		if o.MaxTokens > 0 {
			cfg.Stages[i].MaxTokens = o.MaxTokens
		}
		if o.Model != "" {
			cfg.Stages[i].Model = o.Model
		}
		if o.Critical != nil {
			cfg.Stages[i].Critical = *o.Critical
		}
		if o.Handoff != "" {
			cfg.Stages[i].Handoff = o.Handoff
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
