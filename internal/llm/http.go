package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the per-request timeout when CallParams.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// HTTPClient calls an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHTTPClient creates a client for baseURL (default api.openai.com/v1).
// The model is the default for calls that don't override it in params.
func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		// Per-request deadlines come from the call context; no client-wide
		// timeout so params can lengthen it.
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call implements Client.
func (c *HTTPClient) Call(ctx context.Context, prompt string, params CallParams) (RawResponse, error) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := params.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return RawResponse{}, &TransportError{Class: ClassOther, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return RawResponse{}, &TransportError{Class: ClassOther, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawResponse{}, classifyDoError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return RawResponse{}, classifyDoError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return RawResponse{}, classifyStatus(resp, respBody)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return RawResponse{}, &TransportError{Class: ClassMalformed, Err: fmt.Errorf("decode response: %w", err)}
	}
	if cr.Error != nil {
		return RawResponse{}, &TransportError{Class: ClassOther, Err: fmt.Errorf("api error: %s", cr.Error.Message)}
	}
	if len(cr.Choices) == 0 {
		return RawResponse{}, &TransportError{Class: ClassMalformed, Err: errors.New("empty choices")}
	}

	respModel := cr.Model
	if respModel == "" {
		respModel = model
	}
	return RawResponse{
		Content: cr.Choices[0].Message.Content,
		Usage: Usage{
			InTokens:  cr.Usage.PromptTokens,
			OutTokens: cr.Usage.CompletionTokens,
		},
		Model: respModel,
	}, nil
}

func classifyStatus(resp *http.Response, body []byte) *TransportError {
	detail := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 256))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &TransportError{Class: ClassAuth, Status: resp.StatusCode, Err: detail}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &TransportError{
			Class:      ClassRateLimit,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        detail,
		}
	case resp.StatusCode >= 500:
		return &TransportError{Class: ClassServer, Status: resp.StatusCode, Err: detail}
	default:
		return &TransportError{Class: ClassOther, Status: resp.StatusCode, Err: detail}
	}
}

func classifyDoError(err error) *TransportError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Class: ClassTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &TransportError{Class: ClassOther, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Class: ClassTimeout, Err: err}
	}
	return &TransportError{Class: ClassNetwork, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
