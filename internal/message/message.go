package message

import (
	"strconv"
	"strings"
	"time"
)

// Message kinds as reported by the platform event stream.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Segment types we understand; anything else is carried through untouched.
const (
	SegText  = "text"
	SegAt    = "at"
	SegFace  = "face"
	SegImage = "image"
	SegReply = "reply"
)

// Segment is one element of a platform message array.
type Segment struct {
	Type   string
	Text   string // text
	Target int64  // at
	FaceID int64  // face
	File   string // image
	URL    string // image
}

func TextSegment(s string) Segment  { return Segment{Type: SegText, Text: s} }
func AtSegment(target int64) Segment { return Segment{Type: SegAt, Target: target} }

// Sender identifies who wrote a message.
type Sender struct {
	ID       int64
	Nickname string
	Card     string // group display name, may be empty
	Role     string // owner / admin / member, group only
}

// DisplayName prefers the group card over the nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	if s.Nickname != "" {
		return s.Nickname
	}
	return strconv.FormatInt(s.ID, 10)
}

// Message is the normalized inbound chat message every channel produces.
type Message struct {
	Channel   string // source channel name, used to route replies
	Kind      string // KindPrivate or KindGroup
	MessageID int64
	GroupID   int64 // zero unless Kind == KindGroup
	SelfID    int64 // the bot account that received this message
	Sender    Sender
	Segments  []Segment
	Time      time.Time
}

func (m *Message) IsPrivate() bool { return m.Kind == KindPrivate }
func (m *Message) IsGroup() bool   { return m.Kind == KindGroup }

// PlainText joins the text segments. Mentions and media are dropped; the
// engagement gate and history rendering both work on this form.
func (m *Message) PlainText() string {
	var sb strings.Builder
	for _, seg := range m.Segments {
		if seg.Type == SegText {
			sb.WriteString(seg.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Mentions reports whether any at-segment targets the given user.
func (m *Message) Mentions(userID int64) bool {
	for _, seg := range m.Segments {
		if seg.Type == SegAt && seg.Target == userID {
			return true
		}
	}
	return false
}

// MentionedIDs returns the distinct at-targets in order of first appearance.
func (m *Message) MentionedIDs() []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, seg := range m.Segments {
		if seg.Type == SegAt && !seen[seg.Target] {
			seen[seg.Target] = true
			out = append(out, seg.Target)
		}
	}
	return out
}
