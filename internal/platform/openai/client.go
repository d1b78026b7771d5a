package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the client settings. BaseURL may point at any
// OpenAI-compatible endpoint.
type Config struct {
	BaseURL        string
	APIKey         string
	DefaultModel   string
	EmbeddingModel string
	Dimension      int
	Timeout        time.Duration
	RPS            float64
}

// Client is a single-attempt OpenAI-compatible API client. It performs no
// internal retries; callers own the retry policy.
type Client struct {
	baseURL        string
	apiKey         string
	defaultModel   string
	embeddingModel string
	dimension      int
	hc             *http.Client
	limiter        *rate.Limiter
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		defaultModel:   cfg.DefaultModel,
		embeddingModel: cfg.EmbeddingModel,
		dimension:      cfg.Dimension,
		hc:             &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// DefaultModel returns the configured completion model.
func (c *Client) DefaultModel() string { return c.defaultModel }

// CompletionRequest describes a single chat completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// TokenUsage mirrors the usage block of the completions API.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the validated result of a chat completion call.
type Completion struct {
	Text  string
	Model string
	Usage TokenUsage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

// Complete performs one chat completion call. The raw upstream payload is
// decoded and validated here so callers only ever see typed results.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	wire := chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		wire.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := c.post(ctx, "/chat/completions", wire)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Kind: KindMalformedResponse, Message: fmt.Sprintf("decode completion response: %v", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &APIError{Kind: KindMalformedResponse, Message: "completion response has no choices"}
	}

	out := &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: resp.Usage,
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Kind: KindTimeout, Message: fmt.Sprintf("rate limiter wait: %v", err)}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &APIError{Kind: KindAPI, Message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, &APIError{Kind: KindAPI, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindConnection, Message: fmt.Sprintf("read response body: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func transportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	}
	return &APIError{Kind: KindConnection, Message: err.Error()}
}

func statusError(status int, body []byte) *APIError {
	var eb apiErrorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	kind := KindAPI
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusNotFound,
		eb.Error.Code == "model_not_found",
		strings.Contains(strings.ToLower(msg), "model"):
		kind = KindInvalidModel
	case status >= 500:
		kind = KindConnection
	}
	return &APIError{Kind: kind, StatusCode: status, Message: msg}
}
