// Package llm is the request/response boundary to the language model.
// It carries no business logic: callers get back raw content plus token
// usage, or a classified transport error.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class buckets transport failures for the retry controller.
type Class string

const (
	ClassAuth      Class = "auth"
	ClassRateLimit Class = "rate_limit"
	ClassServer    Class = "server_5xx"
	ClassTimeout   Class = "timeout"
	ClassNetwork   Class = "network"
	ClassMalformed Class = "malformed"
	ClassOther     Class = "other"
)

// Usage is the token accounting reported by the model for one call.
type Usage struct {
	InTokens  int64
	OutTokens int64
}

// RawResponse is the unparsed model output for one call.
type RawResponse struct {
	Content string
	Usage   Usage
	Model   string
}

// CallParams tunes a single request.
type CallParams struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout bounds the request; zero means the client default.
	Timeout time.Duration
}

// Client issues a single prompt and returns the raw response.
// Implementations must honour ctx cancellation and classify failures
// as *TransportError.
type Client interface {
	Call(ctx context.Context, prompt string, params CallParams) (RawResponse, error)
}

// TransportError is a classified request failure.
type TransportError struct {
	Class  Class
	Status int // HTTP status when applicable, else 0
	// RetryAfter is the server-requested wait from a 429, when present.
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("llm: %s: %v", e.Class, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify returns the transport class of err, or ClassOther when err is
// not a TransportError.
func Classify(err error) Class {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class
	}
	return ClassOther
}

// RetryAfter extracts the server-requested wait, if err carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var te *TransportError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}
