package message

import (
	"testing"
)

func TestPlainTextJoinsTextSegments(t *testing.T) {
	m := Message{Segments: []Segment{
		AtSegment(999),
		TextSegment(" 帮我查下 "),
		{Type: SegFace, FaceID: 14},
		TextSegment("天气"),
	}}
	if got := m.PlainText(); got != "帮我查下 天气" {
		t.Errorf("PlainText = %q", got)
	}
}

func TestPlainTextEmpty(t *testing.T) {
	m := Message{Segments: []Segment{AtSegment(1), {Type: SegImage, File: "a.jpg"}}}
	if got := m.PlainText(); got != "" {
		t.Errorf("PlainText = %q, want empty", got)
	}
}

func TestMentions(t *testing.T) {
	m := Message{Segments: []Segment{AtSegment(999), TextSegment("hi")}}
	if !m.Mentions(999) {
		t.Error("Mentions(999) = false")
	}
	if m.Mentions(1) {
		t.Error("Mentions(1) = true")
	}
}

func TestMentionedIDsDeduped(t *testing.T) {
	m := Message{Segments: []Segment{
		AtSegment(10),
		AtSegment(20),
		AtSegment(10),
	}}
	ids := m.MentionedIDs()
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 20 {
		t.Errorf("MentionedIDs = %v", ids)
	}
}

func TestDisplayNamePrecedence(t *testing.T) {
	cases := []struct {
		sender Sender
		want   string
	}{
		{Sender{ID: 7, Nickname: "alice", Card: "阿丽"}, "阿丽"},
		{Sender{ID: 7, Nickname: "alice"}, "alice"},
		{Sender{ID: 7}, "7"},
	}
	for _, tc := range cases {
		if got := tc.sender.DisplayName(); got != tc.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tc.sender, got, tc.want)
		}
	}
}

func TestKindHelpers(t *testing.T) {
	g := Message{Kind: KindGroup}
	p := Message{Kind: KindPrivate}
	if !g.IsGroup() || g.IsPrivate() {
		t.Error("group kind misreported")
	}
	if !p.IsPrivate() || p.IsGroup() {
		t.Error("private kind misreported")
	}
}
