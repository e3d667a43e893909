// Package llm wraps the completion provider behind a narrow boundary so the
// agents never depend on a concrete SDK.
package llm

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Request is one completion call. When Schema is set the provider is asked for
// strict JSON matching it; Images are JPEG bytes attached for vision review.
type Request struct {
	Model       string
	Prompt      string
	Images      [][]byte
	Schema      any
	SchemaName  string
	MaxTokens   int64
	Temperature float64
}

// Client is the completion-provider boundary used by all agents.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GenerateSchema reflects a JSON schema for structured outputs
func GenerateSchema[T any]() any {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Func adapts a plain function to the Client interface, used by tests.
type Func func(ctx context.Context, req Request) (string, error)

// Complete implements Client.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var _ Client = Func(nil)

// ErrEmptyResponse is returned when the provider produced no choices.
var ErrEmptyResponse = fmt.Errorf("llm: empty response")
