package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Anthropic wraps the Messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAnthropic(apiKey, endpoint string, timeout time.Duration) *Anthropic {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1"
	}
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: endpoint,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Response{}, &Error{Provider: a.Name(), Kind: RequestFailed, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Provider: a.Name(), Kind: RequestFailed, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, &Error{Provider: a.Name(), Kind: ConnectionError, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Provider: a.Name(), Kind: ConnectionError, Message: "read response", Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Response{}, &Error{Provider: a.Name(), Kind: AuthError, Status: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, &Error{Provider: a.Name(), Kind: RateLimitExceeded, Status: resp.StatusCode, RetryAfterSecs: retryAfterSeconds(resp.Header.Get("Retry-After")), Message: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return Response{}, &Error{Provider: a.Name(), Kind: ApiError, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Response{}, &Error{Provider: a.Name(), Kind: ParseError, Message: "decode response", Cause: err}
	}
	if apiResp.Error != nil {
		return Response{}, &Error{Provider: a.Name(), Kind: ApiError, Message: apiResp.Error.Message}
	}
	if len(apiResp.Content) == 0 {
		return Response{}, &Error{Provider: a.Name(), Kind: ParseError, Message: "no content blocks in response"}
	}

	in, out := apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens
	return Response{
		Text:         apiResp.Content[0].Text,
		InputTokens:  &in,
		OutputTokens: &out,
	}, nil
}
