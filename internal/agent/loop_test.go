package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nebulinkco/aster/internal/config"
	"github.com/nebulinkco/aster/internal/llm"
	"github.com/nebulinkco/aster/internal/memory"
	"github.com/nebulinkco/aster/internal/message"
	"github.com/nebulinkco/aster/internal/tools"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type fakeChat struct {
	responses []llm.Message
	calls     [][]llm.Message
	err       error
}

func (c *fakeChat) Chat(_ context.Context, messages []llm.Message, _ []llm.Tool) (*llm.Message, error) {
	c.calls = append(c.calls, messages)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &llm.Message{Role: "assistant", Content: "ok"}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return &resp, nil
}

type fakePoster struct {
	sent []string
	err  error
}

func (p *fakePoster) SendReply(_ context.Context, _ *message.Message, text string) (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.sent = append(p.sent, text)
	return int64(len(p.sent)), nil
}

// pingTool is a trivial tool for exercising the loop.
type pingTool struct{}

func (pingTool) Name() string        { return "ping" }
func (pingTool) Description() string { return "replies pong" }
func (pingTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (pingTool) Call(_ context.Context, _ map[string]any, _ tools.Invocation) (string, error) {
	return "pong", nil
}

func newTestAgent(t *testing.T, chat *fakeChat, poster Poster) (*Agent, *memory.Dozer) {
	t.Helper()

	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"), stubEmbedder{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	dozer := memory.NewDozer(store, chat, nil, 100)
	aliases, err := LoadAliases(filepath.Join(t.TempDir(), "aliases_map.json"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.AgentConfig{
		SelfID:           999,
		NameVariants:     []string{"aster", "阿斯特", "小星"},
		MaxToolRounds:    3,
		FallbackReply:    "我想不出来了",
		HistoryWindowSec: 1300,
	}

	registry := tools.NewRegistry(pingTool{})
	a := New(cfg, chat, registry, dozer, aliases, func(string) Poster { return poster })
	return a, dozer
}

func inbound(text string, mention bool) *message.Message {
	msg := &message.Message{
		Channel: "onebot",
		Kind:    message.KindGroup,
		GroupID: 1,
		SelfID:  999,
		Sender:  message.Sender{ID: 10, Nickname: "alice"},
		Time:    time.Now(),
	}
	if mention {
		msg.Segments = append(msg.Segments, message.AtSegment(999))
	}
	msg.Segments = append(msg.Segments, message.TextSegment(text))
	return msg
}

func TestResolveIgnoresUnengaged(t *testing.T) {
	chat := &fakeChat{}
	poster := &fakePoster{}
	a, dozer := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("大家晚上好", false)); err != nil {
		t.Fatal(err)
	}
	if len(chat.calls) != 0 {
		t.Error("model should not be called for unengaged messages")
	}
	if len(poster.sent) != 0 {
		t.Error("nothing should be sent")
	}
	// the message still feeds consolidation and history
	if got := dozer.Pending(memory.GroupScope(1)); got != 1 {
		t.Errorf("dozer pending = %d, want 1", got)
	}
	if a.History(ChannelID{ID: 1}).Len() != 1 {
		t.Error("history should record the message")
	}
}

func TestResolveIgnoresSelf(t *testing.T) {
	chat := &fakeChat{}
	a, dozer := newTestAgent(t, chat, &fakePoster{})

	msg := inbound("阿斯特在吗?", false)
	msg.Sender.ID = 999
	if err := a.Resolve(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(chat.calls) != 0 {
		t.Error("own echoes must not trigger the loop")
	}
	if got := dozer.Pending(memory.GroupScope(1)); got != 0 {
		t.Errorf("own echoes must not feed extraction, pending = %d", got)
	}
	if a.History(ChannelID{ID: 1}).Len() != 0 {
		t.Error("own echoes must not enter history as user entries")
	}
}

func TestResolveDirectReply(t *testing.T) {
	chat := &fakeChat{responses: []llm.Message{
		{Role: "assistant", Content: "我在"},
	}}
	poster := &fakePoster{}
	a, _ := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("阿斯特在吗?", false)); err != nil {
		t.Fatal(err)
	}
	if len(poster.sent) != 1 || poster.sent[0] != "我在" {
		t.Fatalf("sent = %v", poster.sent)
	}

	hist := a.History(ChannelID{ID: 1})
	if !hist.Buffing() {
		t.Error("successful reply should arm the buff")
	}
	if hist.Len() != 2 {
		t.Errorf("history len = %d, want user + assistant", hist.Len())
	}
}

func TestResolveToolRound(t *testing.T) {
	chat := &fakeChat{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{
			ID: "c1", Type: "function",
			Function: llm.FunctionCall{Name: "ping", Arguments: "{}"},
		}}},
		{Role: "assistant", Content: "pong 收到"},
	}}
	poster := &fakePoster{}
	a, _ := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("阿斯特帮个忙", false)); err != nil {
		t.Fatal(err)
	}
	if len(chat.calls) != 2 {
		t.Fatalf("chat calls = %d, want 2", len(chat.calls))
	}

	// second round must carry the assistant tool-call message and its result
	second := chat.calls[1]
	var sawToolResult bool
	for _, m := range second {
		if m.Role == "tool" && m.ToolCallID == "c1" && m.Content == "pong" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Error("tool result not fed back to the model")
	}
	if len(poster.sent) != 1 || poster.sent[0] != "pong 收到" {
		t.Fatalf("sent = %v", poster.sent)
	}
}

func TestResolveUnknownToolFeedsError(t *testing.T) {
	chat := &fakeChat{responses: []llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{
			ID: "c1", Type: "function",
			Function: llm.FunctionCall{Name: "no_such_tool", Arguments: "{}"},
		}}},
		{Role: "assistant", Content: "好吧"},
	}}
	poster := &fakePoster{}
	a, _ := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("阿斯特帮个忙", false)); err != nil {
		t.Fatal(err)
	}

	second := chat.calls[1]
	var sawError bool
	for _, m := range second {
		if m.Role == "tool" && strings.Contains(m.Content, "unknown tool") {
			sawError = true
		}
	}
	if !sawError {
		t.Error("synthetic tool error not fed back")
	}
	if len(poster.sent) != 1 {
		t.Errorf("sent = %v, want the terminal reply", poster.sent)
	}
}

func TestResolveRoundCapFallback(t *testing.T) {
	// the model never stops asking for tools
	loop := llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{
		ID: "c", Type: "function",
		Function: llm.FunctionCall{Name: "ping", Arguments: "{}"},
	}}}
	chat := &fakeChat{responses: []llm.Message{loop, loop, loop, loop, loop}}
	poster := &fakePoster{}
	a, _ := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("阿斯特帮个忙", false)); err != nil {
		t.Fatal(err)
	}
	if len(chat.calls) != 3 {
		t.Errorf("chat calls = %d, want the configured cap of 3", len(chat.calls))
	}
	if len(poster.sent) != 1 || poster.sent[0] != "我想不出来了" {
		t.Errorf("sent = %v, want the fallback reply", poster.sent)
	}
}

func TestResolveBuffCarriesExactlyTwoFollowUps(t *testing.T) {
	// one reply arms the buff at 3; each follow-up cools it before the
	// carry-over is read, so only the first two weak follow-ups engage
	chat := &fakeChat{responses: []llm.Message{
		{Role: "assistant", Content: "我在"},
		{Role: "assistant", Content: ""},
		{Role: "assistant", Content: ""},
	}}
	poster := &fakePoster{}
	a, _ := newTestAgent(t, chat, poster)
	ctx := context.Background()

	if err := a.Resolve(ctx, inbound("阿斯特在吗?", false)); err != nil {
		t.Fatal(err)
	}
	if len(poster.sent) != 1 {
		t.Fatalf("sent = %v, want the arming reply", poster.sent)
	}

	// "帮我看看" scores 20 on its own and needs the +30 carry to engage;
	// the model stays silent so the buff is never re-armed
	for i := 0; i < 3; i++ {
		if err := a.Resolve(ctx, inbound("帮我看看", false)); err != nil {
			t.Fatal(err)
		}
	}
	if len(chat.calls) != 3 {
		t.Errorf("chat calls = %d, want 3 (third follow-up must not carry the buff)", len(chat.calls))
	}
	if len(poster.sent) != 1 {
		t.Errorf("sent = %v, silence must not produce replies", poster.sent)
	}
}

func TestResolveDispatchFailureDropsTurn(t *testing.T) {
	chat := &fakeChat{responses: []llm.Message{
		{Role: "assistant", Content: "我在"},
	}}
	poster := &fakePoster{err: fmt.Errorf("socket closed")}
	a, _ := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("阿斯特在吗?", false)); err == nil {
		t.Fatal("expected dispatch error")
	}

	hist := a.History(ChannelID{ID: 1})
	if hist.Buffing() {
		t.Error("failed dispatch must not arm the buff")
	}
	if hist.Len() != 1 {
		t.Errorf("history len = %d, want user entry only", hist.Len())
	}
}

func TestResolveModelSilence(t *testing.T) {
	chat := &fakeChat{responses: []llm.Message{
		{Role: "assistant", Content: ""},
	}}
	poster := &fakePoster{}
	a, _ := newTestAgent(t, chat, poster)

	if err := a.Resolve(context.Background(), inbound("阿斯特在吗?", false)); err != nil {
		t.Fatal(err)
	}
	if len(poster.sent) != 0 {
		t.Errorf("sent = %v, want nothing", poster.sent)
	}
}
