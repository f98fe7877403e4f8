package ai

import "context"

// Disabled is the client used when no provider key is configured. Every call
// reports the model unavailable, which the pipeline turns into a free
// fallback summary.
type Disabled struct{}

func (Disabled) Complete(context.Context, CompletionRequest) (CompletionResponse, error) {
	return CompletionResponse{}, ErrModelUnavailable
}
