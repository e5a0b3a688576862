package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fixed response contracts for the three oracle endpoints. The adapter
// rejects anything that drifts from these shapes.

const faceSchemaJSON = `{
	"type": "object",
	"required": ["status", "face_count"],
	"properties": {
		"status": {"enum": ["NO_FACE", "SINGLE_FACE", "MULTIPLE_FACES"]},
		"face_count": {"type": "integer", "minimum": 0}
	}
}`

const eyesSchemaJSON = `{
	"type": "object",
	"required": ["head_direction", "looking_away"],
	"properties": {
		"head_direction": {"enum": ["CENTER", "LEFT", "RIGHT", "UP", "DOWN", "WAITING"]},
		"looking_away": {"type": "boolean"}
	}
}`

const scoreSchemaJSON = `{
	"type": "object",
	"required": ["cheating_score", "risk_level"],
	"properties": {
		"cheating_score": {"type": "number", "minimum": 0, "maximum": 100},
		"risk_level": {"enum": ["SAFE", "SUSPICIOUS", "HIGH_RISK"]}
	}
}`

var (
	faceSchema  = mustSchema("face.json", faceSchemaJSON)
	eyesSchema  = mustSchema("eyes.json", eyesSchemaJSON)
	scoreSchema = mustSchema("score.json", scoreSchemaJSON)
)

type schemaValidator struct {
	schema *jsonschema.Schema
}

func mustSchema(name, raw string) *schemaValidator {
	return &schemaValidator{schema: jsonschema.MustCompileString(name, raw)}
}

func (s *schemaValidator) validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("malformed JSON: %v", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema mismatch: %v", err)
	}
	return nil
}
