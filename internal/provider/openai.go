package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI wraps the Chat Completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAI builds an OpenAI adapter. endpoint overrides the default
// https://api.openai.com/v1 base URL when non-empty (OpenAI-compatible
// gateways).
func NewOpenAI(apiKey, endpoint string, timeout time.Duration) *OpenAI {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: endpoint,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openAIChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIChatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(openAIChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: RequestFailed, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: RequestFailed, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ConnectionError, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ConnectionError, Message: "read response", Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Response{}, &Error{Provider: o.Name(), Kind: AuthError, Status: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, &Error{Provider: o.Name(), Kind: RateLimitExceeded, Status: resp.StatusCode, RetryAfterSecs: retryAfterSeconds(resp.Header.Get("Retry-After")), Message: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return Response{}, &Error{Provider: o.Name(), Kind: ApiError, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp openAIChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ParseError, Message: "decode response", Cause: err}
	}
	if apiResp.Error != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ApiError, Message: apiResp.Error.Message}
	}
	if len(apiResp.Choices) == 0 {
		return Response{}, &Error{Provider: o.Name(), Kind: ParseError, Message: "no choices in response"}
	}

	in, out := apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens
	return Response{
		Text:         apiResp.Choices[0].Message.Content,
		InputTokens:  &in,
		OutputTokens: &out,
	}, nil
}

func retryAfterSeconds(header string) float64 {
	if header == "" {
		return 0
	}
	var secs float64
	if _, err := fmt.Sscanf(header, "%f", &secs); err != nil {
		return 0
	}
	return secs
}
