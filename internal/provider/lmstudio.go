package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// LMStudio wraps LM Studio's OpenAI-compatible /v1/chat/completions
// endpoint (same wire shape as OpenAI, no API key required).
type LMStudio struct {
	endpoint string
	client   *http.Client
}

func NewLMStudio(endpoint string, timeout time.Duration) *LMStudio {
	return &LMStudio{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (l *LMStudio) Name() string { return "lmstudio" }

func (l *LMStudio) Complete(ctx context.Context, req Request) (Response, error) {
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
		return Response{}, &Error{Provider: l.Name(), Kind: RequestFailed, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Provider: l.Name(), Kind: RequestFailed, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return Response{}, &Error{Provider: l.Name(), Kind: ConnectionError, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Provider: l.Name(), Kind: ConnectionError, Message: "read response", Cause: err}
	}

	if resp.StatusCode >= 400 {
		return Response{}, &Error{Provider: l.Name(), Kind: ApiError, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp openAIChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Response{}, &Error{Provider: l.Name(), Kind: ParseError, Message: "decode response", Cause: err}
	}
	if apiResp.Error != nil {
		return Response{}, &Error{Provider: l.Name(), Kind: ApiError, Message: apiResp.Error.Message}
	}
	if len(apiResp.Choices) == 0 {
		return Response{}, &Error{Provider: l.Name(), Kind: ParseError, Message: "no choices in response"}
	}

	in, out := apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens
	return Response{Text: apiResp.Choices[0].Message.Content, InputTokens: &in, OutputTokens: &out}, nil
}
