package mnemosyne

import "context"

// MessageSource streams conversations into the engine. Next returns the
// next conversation's id and its timestamp-ordered messages, or io.EOF
// when the source is exhausted.
type MessageSource interface {
	Next(ctx context.Context) (conversationID string, msgs []Message, err error)
}

// LLMResponse is the raw model output for one extraction request.
type LLMResponse struct {
	Content   string
	InTokens  int64
	OutTokens int64
	Model     string
}

// LLMClient replaces the built-in HTTP model client. Implementations
// should honour ctx cancellation; errors other than context deadline
// expiry are treated as non-retriable.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (LLMResponse, error)
}
