// Package prompts loads and renders the stage prompt templates.
// Templates live on disk under a configurable directory; when a file is
// missing the embedded default is used, so a bare deployment still works.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/prompt2story/storygen/domain"
)

//go:embed templates/*.md
var builtin embed.FS

// JSONInstructions is appended to every prompt so models answer with a
// bare JSON object instead of prose.
const JSONInstructions = "\n\nReturn ONLY a valid JSON object matching the schema above, with no preamble and no markdown fences."

// Store resolves templates by name.
type Store struct {
	dir string // optional override directory; empty means embedded only
}

// NewStore creates a template store. dir may be empty.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the raw template text for a name, preferring an on-disk
// override over the embedded default.
func (s *Store) Load(name string) (string, error) {
	if s.dir != "" {
		path := filepath.Join(s.dir, name+".md")
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}
	data, err := builtin.ReadFile("templates/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown prompt template %q: %w", name, err)
	}
	return string(data), nil
}

// stageData is the substitution context for a stage template.
type stageData struct {
	Title        string
	Tagline      string
	Input        string
	Context      string
	Dependencies string // serialized narrowed accumulator, "{}" when empty
}

// RenderStage renders the prompt for one stage from its template, the
// raw request input and the stage's narrowed context.
func (s *Store) RenderStage(stage domain.Stage, input, extra string, deps map[domain.OutputKey]json.RawMessage) (string, error) {
	text, err := s.Load(stage.Template)
	if err != nil {
		return "", err
	}

	serialized := "{}"
	if len(deps) > 0 {
		b, err := json.MarshalIndent(deps, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to serialize stage context: %w", err)
		}
		serialized = string(b)
	}

	tmpl, err := template.New(stage.Template).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", stage.Template, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, stageData{
		Title:        stage.Title,
		Tagline:      stage.Tagline,
		Input:        input,
		Context:      extra,
		Dependencies: serialized,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", stage.Template, err)
	}

	buf.WriteString(JSONInstructions)
	return buf.String(), nil
}
