package perception

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const estimateSchemaURL = "https://physician.local/schemas/physical-estimate.schema.json"

// estimateSchema checks the shape of the model reply. Numeric ranges are
// enforced by PhysicalEstimate.Validate so the errors name the field.
const estimateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["material", "friction_mu", "mass_kg", "velocity_ms", "is_dangerous_intent", "reasoning"],
  "properties": {
    "material": {"type": "string", "minLength": 1},
    "friction_mu": {"type": "number"},
    "mass_kg": {"type": "number"},
    "velocity_ms": {"type": "number"},
    "is_dangerous_intent": {"type": "boolean"},
    "reasoning": {"type": "string"}
  }
}`

// responseSchema is sent with the request so the model replies in the right shape
var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"material":            map[string]any{"type": "STRING", "description": "Primary surface material."},
		"friction_mu":         map[string]any{"type": "NUMBER", "description": "Friction coefficient (0.1 to 1.0)."},
		"mass_kg":             map[string]any{"type": "NUMBER", "description": "Estimated mass of the object in kg."},
		"velocity_ms":         map[string]any{"type": "NUMBER", "description": "Estimated velocity of movement in m/s."},
		"is_dangerous_intent": map[string]any{"type": "BOOLEAN", "description": "Is the command physically reckless?"},
		"reasoning":           map[string]any{"type": "STRING", "description": "Engineering justification for the verdict."},
	},
	"required": []string{"material", "friction_mu", "mass_kg", "velocity_ms", "is_dangerous_intent", "reasoning"},
}

func compileEstimateSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(estimateSchemaURL, strings.NewReader(estimateSchema)); err != nil {
		return nil, fmt.Errorf("estimate schema load failed: %w", err)
	}
	compiled, err := c.Compile(estimateSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("estimate schema compile failed: %w", err)
	}
	return compiled, nil
}

// stripFences removes a markdown code fence some models wrap JSON in
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func decodeDocument(text string) (any, error) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
