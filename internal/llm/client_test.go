package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nebulinkco/aster/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.ProviderConfig{APIKey: "sk-test", BaseURL: url}, "test-model", 512)
}

func TestChatParsesReply(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  hi there  "}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Chat(context.Background(),
		[]Message{SystemMessage("sys"), UserMessage("hello")},
		[]Tool{{Name: "ping", Description: "d"}})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}

	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	tools, ok := gotBody["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v", gotBody["tools"])
	}
	spec := tools[0].(map[string]any)
	if spec["type"] != "function" {
		t.Errorf("tool type = %v", spec["type"])
	}
	fn := spec["function"].(map[string]any)
	if fn["name"] != "ping" {
		t.Errorf("tool name = %v", fn["name"])
	}
	if _, ok := fn["parameters"]; !ok {
		t.Error("tool parameters missing")
	}
}

func TestChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{
			"role":"assistant","content":"",
			"tool_calls":[{"id":"c1","type":"function",
				"function":{"name":"search_memory","arguments":"{\"query\":\"tea\"}"}}]
		}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Chat(context.Background(), []Message{UserMessage("x")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "c1" || call.Function.Name != "search_memory" {
		t.Errorf("call = %+v", call)
	}
	if call.Function.Arguments != `{"query":"tea"}` {
		t.Errorf("arguments = %q", call.Function.Arguments)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Chat(context.Background(), []Message{UserMessage("x")}, nil); err == nil {
		t.Error("expected error for http 429")
	}
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Chat(context.Background(), []Message{UserMessage("x")}, nil); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestChatMissingCredentials(t *testing.T) {
	c := NewClient(config.ProviderConfig{}, "m", 10)
	if _, err := c.Chat(context.Background(), []Message{UserMessage("x")}, nil); err == nil {
		t.Error("expected error without api key")
	}
}
