package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives the JSON Schema for a tool's input struct. Schemas
// are inlined (no $ref) and closed to unknown properties so clients get a
// self-contained description of exactly what a tool accepts.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// decodeInput unmarshals raw tool arguments into the typed input struct,
// wrapping failures so the dispatcher can map them to an invalid-params
// error.
func decodeInput[T any](input json.RawMessage) (T, error) {
	var in T
	if len(input) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return in, nil
}
