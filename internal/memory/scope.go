package memory

import (
	"strconv"
	"strings"

	"github.com/nebulinkco/aster/internal/message"
)

// ScopeKind discriminates the memory partition a record belongs to.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeGroup
	ScopeUser
)

// Scope is the partition key for memories and consolidation buffers.
// It is a small value type, comparable and usable as a map key.
type Scope struct {
	Kind ScopeKind
	ID   int64
}

func GlobalScope() Scope        { return Scope{Kind: ScopeGlobal} }
func GroupScope(id int64) Scope { return Scope{Kind: ScopeGroup, ID: id} }
func UserScope(id int64) Scope  { return Scope{Kind: ScopeUser, ID: id} }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeGroup:
		return "group:" + strconv.FormatInt(s.ID, 10)
	case ScopeUser:
		return "user:" + strconv.FormatInt(s.ID, 10)
	default:
		return "global"
	}
}

// ParseScope is the inverse of String. Anything it does not recognize,
// including malformed ids, falls back to the global scope.
func ParseScope(s string) Scope {
	if rest, ok := strings.CutPrefix(s, "group:"); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return GroupScope(id)
		}
		return GlobalScope()
	}
	if rest, ok := strings.CutPrefix(s, "user:"); ok {
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return UserScope(id)
		}
		return GlobalScope()
	}
	return GlobalScope()
}

// ScopeFor derives the partition a message's memories live in: private
// chats partition by sender, group chats by group.
func ScopeFor(msg *message.Message) Scope {
	switch {
	case msg.IsPrivate():
		return UserScope(msg.Sender.ID)
	case msg.IsGroup():
		return GroupScope(msg.GroupID)
	default:
		return GlobalScope()
	}
}
