// Package policy gates inbound generation requests through an OPA
// policy before a run starts. Blocked requests never open a stream.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from the given Rego module content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.request_policy.decision"),
		rego.Module("request_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy module from a file, falling back
// to the default policy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// RequestInput is the policy input for one generation request.
type RequestInput struct {
	Description string `json:"description"`
	Context     string `json:"context"`
	RemoteIP    string `json:"remote_ip"`
}

// Evaluate checks the request policy. Returns the decision and an
// optional reason.
func (e *Engine) Evaluate(ctx context.Context, input RequestInput) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an empty result means the
		// module is malformed rather than a deny.
		return DecisionAllow, "default", nil
	}

	val := results[0].Expressions[0].Value
	switch v := val.(type) {
	case string:
		return v, "", nil
	case map[string]interface{}:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		if decision == "" {
			decision = DecisionAllow
		}
		return decision, reason, nil
	}

	return DecisionAllow, "unexpected return type", nil
}

// DefaultPolicy is the default request policy content.
const DefaultPolicy = `
package request_policy

default decision = "allow"

# Block attempts to smuggle instructions to the pipeline stages.
decision = "block" {
	contains(lower(input.description), "ignore all previous instructions")
}

decision = "block" {
	contains(lower(input.context), "ignore all previous instructions")
}
`
