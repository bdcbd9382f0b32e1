package tools

import (
	"context"
	"encoding/json"
)

type echoInput struct {
	Message string `json:"message" jsonschema_description:"Text to echo back unchanged."`
}

type echoOutput struct {
	Message string `json:"message"`
}

// EchoDefinition is the connectivity smoke-test tool: it returns its input
// verbatim.
var EchoDefinition = Definition{
	Name:        "echo",
	Description: "Echo the given message back unchanged. Useful to verify the tool channel end to end.",
	InputSchema: GenerateSchema[echoInput](),
	Handler: func(_ context.Context, input json.RawMessage) (any, error) {
		in, err := decodeInput[echoInput](input)
		if err != nil {
			return nil, err
		}
		return echoOutput{Message: in.Message}, nil
	},
}
