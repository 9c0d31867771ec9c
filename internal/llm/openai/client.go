// Package openai implements the haven.Provider adapter for the OpenAI
// chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

var _ haven.Provider = (*Client)(nil)

// Client is an OpenAI provider adapter that implements haven.Provider.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an OpenAI Client. If baseURL is empty, it defaults to
// "https://api.openai.com/v1". The provided client should have auth
// configured via its transport chain and a request timeout set; upstream
// calls must be bounded so a hung provider becomes a fallback-eligible
// failure rather than a stuck request.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// chatResponse is the subset of the chat completions response we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *haven.Usage `json:"usage"`
}

// Chat sends a non-streaming chat completion request and extracts the
// reply text plus the provider-reported usage. A non-2xx status or a
// malformed body is a failure.
func (c *Client) Chat(ctx context.Context, req *haven.ChatRequest) (*haven.ChatResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, llm.ParseAPIError(providerName, resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	return &haven.ChatResult{
		Reply: out.Choices[0].Message.Content,
		Usage: out.Usage,
	}, nil
}
