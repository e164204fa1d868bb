package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	argumentSchema = jsonschema.MustCompileString("argument.json", `{
		"type": "object",
		"required": ["argument"],
		"properties": {
			"argument": {"type": "string", "minLength": 1}
		}
	}`)

	conclusionSchema = jsonschema.MustCompileString("conclusion.json", `{
		"type": "object",
		"required": ["summary"],
		"properties": {
			"summary": {"type": "string", "minLength": 1},
			"agreements": {"type": "array", "items": {"type": "string"}},
			"disagreements": {"type": "array", "items": {"type": "string"}},
			"recommendations": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	stakeholdersSchema = jsonschema.MustCompileString("stakeholders.json", `{
		"type": "object",
		"required": ["stakeholders"],
		"properties": {
			"stakeholders": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["name", "stance"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"stance": {"type": "string"},
						"concerns": {"type": "array", "items": {"type": "string"}},
						"style": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`)

	topicsSchema = jsonschema.MustCompileString("topics.json", `{
		"type": "object",
		"required": ["topics"],
		"properties": {
			"topics": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["title"],
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"},
						"priority": {"type": "integer"},
						"key_questions": {"type": "array", "items": {"type": "string"}},
						"stakeholders": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`)
)

type argumentOutput struct {
	Argument string `json:"argument"`
}

type conclusionOutput struct {
	Summary         string   `json:"summary"`
	Agreements      []string `json:"agreements"`
	Disagreements   []string `json:"disagreements"`
	Recommendations []string `json:"recommendations"`
}

type stakeholdersOutput struct {
	Stakeholders []struct {
		Name     string   `json:"name"`
		Stance   string   `json:"stance"`
		Concerns []string `json:"concerns"`
		Style    []string `json:"style"`
	} `json:"stakeholders"`
}

type topicsOutput struct {
	Topics []struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Priority     int      `json:"priority"`
		KeyQuestions []string `json:"key_questions"`
		Stakeholders []string `json:"stakeholders"`
	} `json:"topics"`
}

// decodeJSON extracts the JSON object from a model response, validates it and
// decodes it into dst.
func decodeJSON(schema *jsonschema.Schema, text string, dst any) error {
	raw := extractJSON(text)
	if raw == "" {
		return fmt.Errorf("no JSON object in model output")
	}

	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("parse model output: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("model output does not match schema: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// extractJSON returns the outermost object in text, ignoring code fences and
// surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
