// Package pipeline drives the fixed five-stage generation pipeline:
// orchestrator, stage executor and output parser.
package pipeline

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/prompt2story/storygen/domain"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:[a-zA-Z]+)?[ \t]*\n?(.*?)```")

// requiredFields is the declared top-level shape per stage output.
// Validation failures are logged, never fatal: downstream consumers
// treat every field as optional.
var requiredFields = map[domain.StageRole][]string{
	domain.RoleAnalyst:    {"requirements"},
	domain.RoleStrategist: {"personas"},
	domain.RoleWriter:     {"user_stories"},
	domain.RoleReviewer:   {"user_stories", "edge_cases"},
	domain.RoleRefiner:    {"user_stories", "edge_cases"},
}

// ParseOutput recovers a structured value from a stage's raw streamed
// text. Models interleave reasoning prose with fenced blocks and
// sometimes self-correct, so the last fenced block wins. With no fences
// the whole text is tried, then the first balanced bracketed substring.
// Total absence of JSON-like content is a StageParseError.
func ParseOutput(role domain.StageRole, text string) (json.RawMessage, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, &domain.StageParseError{Role: role}
	}
	validateShape(role, raw)
	return raw, nil
}

// ExtractJSON runs the recovery ladder without stage shape validation.
// Also used by the single-shot routes.
func ExtractJSON(text string) (json.RawMessage, bool) {
	for _, candidate := range candidates(text) {
		if raw, ok := decodeCandidate(candidate); ok {
			return raw, true
		}
	}
	return nil, false
}

// candidates returns substrings to try, in preference order.
func candidates(text string) []string {
	var out []string
	if matches := fencedBlockRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		// Latest self-correction wins.
		out = append(out, matches[len(matches)-1][1])
	}
	out = append(out, text)
	if s := firstBalanced(text); s != "" {
		out = append(out, s)
	}
	return out
}

// decodeCandidate reports whether the candidate holds a JSON object or
// array, repairing near-JSON before giving up on it.
func decodeCandidate(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if raw, ok := decodeStrict(s); ok {
		return raw, true
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false
	}
	return decodeStrict(fixed)
}

func decodeStrict(s string) (json.RawMessage, bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return json.RawMessage(s), true
	}
	return nil, false
}

// firstBalanced returns the first balanced {...} or [...] substring,
// matched by depth counting and skipping over string literals.
func firstBalanced(text string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// validateShape checks the declared top-level fields for the stage.
// Partial or malformed structured data is preferred over a hard failure.
func validateShape(role domain.StageRole, raw json.RawMessage) {
	fields, ok := requiredFields[role]
	if !ok {
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		log.Printf("WARN: stage %s output is not an object; returning raw value", role)
		return
	}
	for _, f := range fields {
		if _, present := obj[f]; !present {
			log.Printf("WARN: stage %s output missing field %q; returning raw value", role, f)
		}
	}
}
