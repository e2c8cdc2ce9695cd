package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nebulinkco/aster/internal/config"
)

// Message is one entry of a chat-completions conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON string, as the wire carries it
}

// Tool is an OpenAI-style function definition offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func (t Tool) spec() map[string]any {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		},
	}
}

func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }
func UserMessage(content string) Message   { return Message{Role: "user", Content: content} }

func ToolResultMessage(callID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: callID}
}

// Client speaks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(provider config.ProviderConfig, model string, maxTokens int) *Client {
	return &Client{
		apiKey:     provider.APIKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(provider.BaseURL), "/"),
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Chat sends the conversation and returns the first choice's message.
// Pass a nil tools slice to disable tool calling.
func (c *Client) Chat(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, fmt.Errorf("missing api key")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing base url")
	}
	if c.model == "" {
		return nil, fmt.Errorf("missing model")
	}

	body := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	if c.maxTokens > 0 {
		body["max_tokens"] = c.maxTokens
	}
	if len(tools) > 0 {
		specs := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			specs = append(specs, t.spec())
		}
		body["tools"] = specs
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	msg := decoded.Choices[0].Message
	msg.Content = strings.TrimSpace(msg.Content)
	return &msg, nil
}
