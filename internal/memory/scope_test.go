package memory

import (
	"testing"

	"github.com/nebulinkco/aster/internal/message"
)

func TestScopeString(t *testing.T) {
	cases := []struct {
		scope Scope
		want  string
	}{
		{GlobalScope(), "global"},
		{GroupScope(42), "group:42"},
		{UserScope(7), "user:7"},
		{GroupScope(-100123), "group:-100123"},
	}
	for _, c := range cases {
		if got := c.scope.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestParseScopeRoundTrip(t *testing.T) {
	scopes := []Scope{GlobalScope(), GroupScope(42), UserScope(7), GroupScope(-5)}
	for _, s := range scopes {
		if got := ParseScope(s.String()); got != s {
			t.Errorf("round trip %v -> %q -> %v", s, s.String(), got)
		}
	}
}

func TestParseScopeFallback(t *testing.T) {
	for _, raw := range []string{"", "bogus", "group:", "group:abc", "user:1.5", "GROUP:42"} {
		if got := ParseScope(raw); got != GlobalScope() {
			t.Errorf("ParseScope(%q) = %v, want global", raw, got)
		}
	}
}

func TestScopeFor(t *testing.T) {
	private := &message.Message{Kind: message.KindPrivate, Sender: message.Sender{ID: 7}}
	if got := ScopeFor(private); got != UserScope(7) {
		t.Errorf("private scope = %v, want user:7", got)
	}

	group := &message.Message{Kind: message.KindGroup, GroupID: 42, Sender: message.Sender{ID: 7}}
	if got := ScopeFor(group); got != GroupScope(42) {
		t.Errorf("group scope = %v, want group:42", got)
	}

	other := &message.Message{Kind: "notice"}
	if got := ScopeFor(other); got != GlobalScope() {
		t.Errorf("other scope = %v, want global", got)
	}
}

func TestScopeAsMapKey(t *testing.T) {
	m := map[Scope]int{
		GroupScope(1): 1,
		UserScope(1):  2,
		GlobalScope(): 3,
	}
	if len(m) != 3 {
		t.Errorf("distinct scopes collided: %v", m)
	}
	if m[GroupScope(1)] != 1 || m[UserScope(1)] != 2 {
		t.Error("scope map lookup broken")
	}
}
