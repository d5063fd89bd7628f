package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Ollama wraps a local Ollama server's /api/chat endpoint.
type Ollama struct {
	endpoint string
	client   *http.Client
}

func NewOllama(endpoint string, timeout time.Duration) *Ollama {
	return &Ollama{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model       string              `json:"model"`
	Messages    []ollamaChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Options     ollamaOptions       `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
}

func (o *Ollama) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: req.Temperature},
	})
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: RequestFailed, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: RequestFailed, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ConnectionError, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ConnectionError, Message: "read response", Cause: err}
	}

	if resp.StatusCode >= 400 {
		return Response{}, &Error{Provider: o.Name(), Kind: ApiError, Status: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Response{}, &Error{Provider: o.Name(), Kind: ParseError, Message: "decode response", Cause: err}
	}
	if apiResp.Error != "" {
		return Response{}, &Error{Provider: o.Name(), Kind: ApiError, Message: apiResp.Error}
	}

	in, out := apiResp.PromptEvalCount, apiResp.EvalCount
	return Response{Text: apiResp.Message.Content, InputTokens: &in, OutputTokens: &out}, nil
}
