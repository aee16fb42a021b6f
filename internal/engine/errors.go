package engine

import (
	"errors"
	"fmt"
)

var (
	ErrAudienceNotFound = errors.New("audience not found")
	ErrPersonaNotFound  = errors.New("persona not found")
)

// ProviderError wraps a failed LLM call with enough context to map it onto
// the transport error taxonomy (bad gateway vs timeout).
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider %s failed during %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
