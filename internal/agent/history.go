package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nebulinkco/aster/internal/message"
)

const (
	// historyCap bounds each channel's rolling window; inserting beyond it
	// evicts the oldest entry.
	historyCap = 20

	// replyBuff is how many follow-up messages keep the conversation warm
	// after the agent speaks.
	replyBuff = 3
)

// ChannelID keys the per-channel history map: one private chat per user,
// one shared history per group.
type ChannelID struct {
	Private bool
	ID      int64
}

// ChannelFor returns the history key for a message, or ok=false for
// messages that belong to no conversation (non-private, non-group events).
func ChannelFor(msg *message.Message) (ChannelID, bool) {
	switch {
	case msg.IsPrivate():
		return ChannelID{Private: true, ID: msg.Sender.ID}, true
	case msg.IsGroup():
		return ChannelID{ID: msg.GroupID}, true
	default:
		return ChannelID{}, false
	}
}

type chatKind int

const (
	chatUser chatKind = iota
	chatAssistant
	chatTool
)

// ChatMsg is one history entry.
type ChatMsg struct {
	Kind     chatKind
	SenderID int64
	Name     string
	Tool     string
	Text     string
	At       time.Time
}

// History is the rolling conversation state of one channel.
type History struct {
	mu      sync.Mutex
	entries []ChatMsg
	buff    int
}

func NewHistory() *History {
	return &History{}
}

func (h *History) push(e ChatMsg) {
	h.entries = append(h.entries, e)
	if len(h.entries) > historyCap {
		h.entries = h.entries[len(h.entries)-historyCap:]
	}
}

// InsertUser records an inbound message and cools the conversation buff by
// one (floor zero).
func (h *History) InsertUser(msg *message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.buff > 0 {
		h.buff--
	}
	h.push(ChatMsg{
		Kind:     chatUser,
		SenderID: msg.Sender.ID,
		Name:     msg.Sender.DisplayName(),
		Text:     msg.PlainText(),
		At:       msg.Time,
	})
}

// PushAssistant records a successfully dispatched reply and re-arms the
// conversation buff.
func (h *History) PushAssistant(text string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buff = replyBuff
	h.push(ChatMsg{Kind: chatAssistant, Text: text, At: at})
}

// PushTool records a tool invocation result so later rounds can see it.
func (h *History) PushTool(tool, text string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(ChatMsg{Kind: chatTool, Tool: tool, Text: text, At: at})
}

// Buffing reports whether the agent spoke recently enough to stay engaged.
func (h *History) Buffing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buff > 0
}

// Len is the current entry count, for tests and status.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// RenderPrompt flattens the window into the user prompt: entries newer
// than the window, oldest first, then a restatement of the message being
// answered, then the alias table for every user id seen.
func (h *History) RenderPrompt(aliases *Aliases, window time.Duration, now time.Time) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-window)
	var sb strings.Builder
	sb.WriteString("以下是最近的聊天记录：\n")

	seen := make(map[int64]string)
	var last *ChatMsg
	for i := range h.entries {
		e := &h.entries[i]
		if e.At.Before(cutoff) {
			continue
		}
		switch e.Kind {
		case chatUser:
			name := e.Name
			if aliases != nil {
				if display, ok := aliases.Display(e.SenderID); ok {
					name = display
				}
			}
			seen[e.SenderID] = name
			fmt.Fprintf(&sb, "[user_id:%d|%s] %s\n", e.SenderID, name, e.Text)
			last = e
		case chatAssistant:
			fmt.Fprintf(&sb, "[你] %s\n", e.Text)
		case chatTool:
			fmt.Fprintf(&sb, "[工具:%s] %s\n", e.Tool, e.Text)
		}
	}

	if last != nil {
		name := seen[last.SenderID]
		fmt.Fprintf(&sb, "\n你现在要回应的是 user_id:%d|%s 的最新发言：\n%s\n", last.SenderID, name, last.Text)
	}

	if len(seen) > 0 {
		ids := make([]int64, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		sb.WriteString("\n用户称呼对照表：\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "user_id:%d -> %s\n", id, seen[id])
		}
	}

	return sb.String()
}
