// Package llm abstracts the text-completion providers the engine talks to.
// A single long-lived Client is constructed at startup and injected into the
// engine; tests swap in the scripted mock.
package llm

import (
	"context"
	"errors"
)

// Request is one completion call. Temperature and MaxTokens are set per call
// because responder selection and response generation deliberately run at
// different randomness levels.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

type Client interface {
	// Complete returns the provider's text for the request, or an error.
	// Implementations honor ctx cancellation and apply their own bounded
	// retry policy for transient failures.
	Complete(ctx context.Context, req Request) (string, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

var ErrEmptyCompletion = errors.New("provider returned empty completion")
