package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// decisionSchemaDoc is the JSON Schema the supervisor LLM is constrained to
// (spec §9 "Structured LLM output"). It is also used to defense-in-depth
// validate whatever the provider actually returned, since not every provider
// enforces schema-constrained decoding with the same rigor.
const decisionSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["CONTINUE", "PARALLEL", "FINISH"]},
    "next_agent": {"type": "string"},
    "next_agents": {"type": "array", "items": {"type": "string"}},
    "instructions": {"type": "string"},
    "reasoning": {"type": "string"}
  },
  "required": ["action", "instructions", "reasoning"],
  "additionalProperties": false
}`

// DecisionSchema is handed to the agent adapter's invoke_structured call so
// providers with native JSON-schema-constrained decoding can enforce it
// server-side.
var DecisionSchema = json.RawMessage(decisionSchemaDoc)

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("supervisor-decision.json", strings.NewReader(decisionSchemaDoc)); err != nil {
			compileErr = fmt.Errorf("supervisor: add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("supervisor-decision.json")
	})
	return compiled, compileErr
}

// ValidateSchema checks raw structured output against DecisionSchema.
func ValidateSchema(raw json.RawMessage) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("supervisor: decode structured output: %w", err)
	}
	return schema.Validate(v)
}
