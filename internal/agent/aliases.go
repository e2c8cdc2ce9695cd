package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Aliases maps user ids to the set of names they go by; a user collects
// aliases over time and all of them render. The table lives in a flat JSON
// file rewritten wholesale on save.
type Aliases struct {
	path string

	mu sync.RWMutex
	m  map[int64][]string
}

func LoadAliases(path string) (*Aliases, error) {
	a := &Aliases{path: path, m: make(map[int64][]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("read aliases: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		for _, alias := range v {
			a.add(id, alias)
		}
	}
	return a, nil
}

// Get returns a copy of the user's alias set.
func (a *Aliases) Get(userID int64) ([]string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	aliases, ok := a.m[userID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(aliases))
	copy(out, aliases)
	return out, true
}

// Display joins the user's aliases for rendering; ok=false when none are
// known.
func (a *Aliases) Display(userID int64) (string, bool) {
	aliases, ok := a.Get(userID)
	if !ok || len(aliases) == 0 {
		return "", false
	}
	return strings.Join(aliases, "/"), true
}

// Set adds one alias to the user's set; duplicates are ignored.
func (a *Aliases) Set(userID int64, alias string) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return
	}
	a.mu.Lock()
	a.add(userID, alias)
	a.mu.Unlock()
}

// add assumes the lock is held (or the value is not yet shared).
func (a *Aliases) add(userID int64, alias string) {
	for _, existing := range a.m[userID] {
		if existing == alias {
			return
		}
	}
	a.m[userID] = append(a.m[userID], alias)
}

func (a *Aliases) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.m)
}

func (a *Aliases) Save() error {
	a.mu.RLock()
	raw := make(map[string][]string, len(a.m))
	for id, aliases := range a.m {
		out := make([]string, len(aliases))
		copy(out, aliases)
		raw[strconv.FormatInt(id, 10)] = out
	}
	a.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal aliases: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create alias dir: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0644); err != nil {
		return fmt.Errorf("write aliases: %w", err)
	}
	return nil
}
