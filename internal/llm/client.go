package llm

import (
	"context"
	"fmt"
)

// Result is what a provider call produced. UsedExtendedReasoning reports
// whether the provider engaged an extended-reasoning mode for this call;
// callers use it to derive a distinct model identity.
type Result struct {
	Text                  string
	UsedExtendedReasoning bool
}

type Client interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// ProviderError carries a provider failure across the boundary with its
// original kind and message intact, so the operator sees the upstream error
// verbatim.
type ProviderError struct {
	Kind    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newProviderError(kind string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Message: err.Error()}
}
