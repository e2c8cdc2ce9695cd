package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nebulinkco/aster/internal/message"
)

func userMsg(sender int64, name, text string, at time.Time) *message.Message {
	return &message.Message{
		Kind:     message.KindGroup,
		GroupID:  1,
		Sender:   message.Sender{ID: sender, Nickname: name},
		Segments: []message.Segment{message.TextSegment(text)},
		Time:     at,
	}
}

func TestChannelFor(t *testing.T) {
	private := &message.Message{Kind: message.KindPrivate, Sender: message.Sender{ID: 7}}
	cid, ok := ChannelFor(private)
	if !ok || cid != (ChannelID{Private: true, ID: 7}) {
		t.Errorf("private channel = %v ok=%v", cid, ok)
	}

	group := &message.Message{Kind: message.KindGroup, GroupID: 42}
	cid, ok = ChannelFor(group)
	if !ok || cid != (ChannelID{ID: 42}) {
		t.Errorf("group channel = %v ok=%v", cid, ok)
	}

	if _, ok := ChannelFor(&message.Message{Kind: "notice"}); ok {
		t.Error("notice events should have no channel")
	}
}

func TestHistoryCapEviction(t *testing.T) {
	h := NewHistory()
	now := time.Now()
	for i := 0; i < historyCap+5; i++ {
		h.InsertUser(userMsg(10, "u", fmt.Sprintf("msg %d", i), now))
	}
	if h.Len() != historyCap {
		t.Fatalf("len = %d, want %d", h.Len(), historyCap)
	}

	rendered := h.RenderPrompt(nil, time.Hour, now)
	if strings.Contains(rendered, "msg 4\n") {
		t.Error("oldest entries should be evicted")
	}
	if !strings.Contains(rendered, fmt.Sprintf("msg %d", historyCap+4)) {
		t.Error("newest entry missing")
	}
}

func TestHistoryBuffLifecycle(t *testing.T) {
	h := NewHistory()
	now := time.Now()

	if h.Buffing() {
		t.Fatal("new history should not be buffing")
	}

	h.PushAssistant("hi", now)
	if !h.Buffing() {
		t.Fatal("should buff after a reply")
	}

	// three user messages drain the buff, floor zero
	for i := 0; i < replyBuff; i++ {
		h.InsertUser(userMsg(10, "u", "x", now))
	}
	if h.Buffing() {
		t.Error("buff should be drained")
	}
	h.InsertUser(userMsg(10, "u", "y", now))
	if h.Buffing() {
		t.Error("buff must not go negative")
	}
}

func TestRenderPromptWindow(t *testing.T) {
	h := NewHistory()
	now := time.Now()

	h.InsertUser(userMsg(10, "old-timer", "ancient words", now.Add(-2*time.Hour)))
	h.InsertUser(userMsg(11, "fresh", "recent words", now.Add(-time.Minute)))

	rendered := h.RenderPrompt(nil, 1300*time.Second, now)
	if strings.Contains(rendered, "ancient words") {
		t.Error("entries outside the window should be dropped")
	}
	if !strings.Contains(rendered, "recent words") {
		t.Error("entries inside the window should render")
	}
}

func TestRenderPromptRestatesLatest(t *testing.T) {
	h := NewHistory()
	now := time.Now()

	h.InsertUser(userMsg(10, "alice", "earlier line", now))
	h.InsertUser(userMsg(11, "bob", "最新的一句", now))

	rendered := h.RenderPrompt(nil, time.Hour, now)
	idx := strings.Index(rendered, "你现在要回应的是 user_id:11|bob 的最新发言")
	if idx < 0 {
		t.Fatalf("restatement missing:\n%s", rendered)
	}
	if !strings.Contains(rendered[idx:], "最新的一句") {
		t.Error("restatement should repeat the latest text")
	}
}

func TestRenderPromptAliasTable(t *testing.T) {
	aliases := &Aliases{m: map[int64][]string{10: {"老张", "张哥"}}}

	h := NewHistory()
	now := time.Now()
	h.InsertUser(userMsg(10, "raw-nick", "hello", now))
	h.PushAssistant("hi", now)
	h.PushTool("search_memory", `{"memories":[]}`, now)

	rendered := h.RenderPrompt(aliases, time.Hour, now)
	if !strings.Contains(rendered, "[user_id:10|老张/张哥] hello") {
		t.Errorf("aliases not applied:\n%s", rendered)
	}
	if !strings.Contains(rendered, "user_id:10 -> 老张/张哥") {
		t.Error("alias table missing")
	}
	if !strings.Contains(rendered, "[你] hi") {
		t.Error("assistant line missing")
	}
	if !strings.Contains(rendered, "[工具:search_memory]") {
		t.Error("tool line missing")
	}
}
