// Package ai wraps the generative model behind a small provider-neutral
// interface. A call carries the full prior turn history, since the provider
// keeps no state between calls.
package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Content is one prior turn of a conversation.
type Content struct {
	Role  string
	Parts []string
}

// Request is a single model invocation: the history to seed the session
// with, the new user message, and the output token budget.
type Request struct {
	History         []Content
	Message         string
	MaxOutputTokens int32
}

// Model generates a reply for a Request.
type Model interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(ctx context.Context, req Request) (string, error)

// Chat calls f.
func (f ModelFunc) Chat(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
