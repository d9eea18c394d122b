// Package llm defines the provider-neutral language model contract used by
// the coaching engine.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by Disabled for every call.
var ErrNotConfigured = errors.New("language model not configured")

// FieldType is the JSON type of a structured-output field.
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldStringList FieldType = "string_list"
)

// Field describes one property of a structured response.
type Field struct {
	Name        string
	Type        FieldType
	Description string
}

// Request is a single structured generation call.
type Request struct {
	Model           string
	System          string
	Prompt          string
	Fields          []Field // empty means free text
	Temperature     float32
	MaxOutputTokens int
}

// Response is the raw provider output plus accounting.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Client generates text from a language model.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Disabled is a Client that always fails; it stands in when no provider
// credentials are configured so callers take their fallback path.
type Disabled struct{}

// Generate implements Client.
func (Disabled) Generate(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}
