package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/nebulinkco/aster/internal/llm"
	"github.com/nebulinkco/aster/internal/message"
)

// nothingSentinel is what the extraction model answers when a batch holds
// no durable information.
const nothingSentinel = "NOTHING"

const extractionPrompt = `你是一个记忆提取引擎。下面是一段群聊/私聊记录，提取其中值得长期记住的信息。

规则：
1. 只提取明确陈述的事实（身份、偏好、约定、事件），不要推测
2. 每条信息独立成句，不依赖上下文也能看懂，并写明涉及的用户 id
3. 每行输出一个 JSON 对象：{"info": "..."}，不要输出其他内容
4. 如果没有值得记录的内容，只输出 %s

聊天记录：
%s`

const reconcilePrompt = `你在维护一个长期记忆库。已有的相关记忆（JSON）：
%s

新信息：%s

请通过工具调用把新信息合并进记忆库：
- 与已有记忆互补或重复时，用 update_memory 合并内容并提高置信度
- 与已有记忆冲突且新信息更可信时，用 update_memory 覆盖，或用 delete_memory 删除过时记忆
- 是全新信息时，用 add_memory 添加
- 不值得记录时，不要调用任何工具`

// ChatClient is the slice of the completion client the pipeline needs.
type ChatClient interface {
	Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error)
}

// AliasLookup resolves a user id to its known aliases, if any.
type AliasLookup interface {
	Get(userID int64) ([]string, bool)
}

type pendingLine struct {
	senderID int64
	text     string
}

// Dozer buffers conversation per scope and, once a scope crosses the
// threshold, consolidates the whole batch into the memory store: one
// extraction call, then one reconciliation call per extracted fact.
// Consolidation is not transactional; failures are logged and the drained
// batch is not re-queued.
type Dozer struct {
	store     *Store
	chat      ChatClient
	aliases   AliasLookup
	threshold int

	mu      sync.Mutex
	pending map[Scope][]pendingLine
}

func NewDozer(store *Store, chat ChatClient, aliases AliasLookup, threshold int) *Dozer {
	if threshold <= 0 {
		threshold = 1
	}
	return &Dozer{
		store:     store,
		chat:      chat,
		aliases:   aliases,
		threshold: threshold,
		pending:   make(map[Scope][]pendingLine),
	}
}

// Append buffers one inbound message under its scope. The agent's own
// messages and messages without text are ignored.
func (d *Dozer) Append(msg *message.Message) {
	if msg.Sender.ID == msg.SelfID {
		return
	}
	text := msg.PlainText()
	if text == "" {
		return
	}

	scope := ScopeFor(msg)
	d.mu.Lock()
	d.pending[scope] = append(d.pending[scope], pendingLine{senderID: msg.Sender.ID, text: text})
	d.mu.Unlock()
}

// Pending reports how many messages are buffered for a scope.
func (d *Dozer) Pending(scope Scope) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[scope])
}

// Flush drains every scope whose buffer reached the threshold and
// consolidates it. Scopes below the threshold are left untouched.
func (d *Dozer) Flush(ctx context.Context) {
	d.flush(ctx, d.threshold)
}

// FlushAll drains every non-empty scope regardless of threshold; used at
// shutdown so buffered conversation is not lost.
func (d *Dozer) FlushAll(ctx context.Context) {
	d.flush(ctx, 1)
}

func (d *Dozer) flush(ctx context.Context, threshold int) {
	d.mu.Lock()
	batches := make(map[Scope][]pendingLine)
	for scope, lines := range d.pending {
		if len(lines) >= threshold {
			batches[scope] = lines
			delete(d.pending, scope)
		}
	}
	d.mu.Unlock()

	for scope, lines := range batches {
		if err := d.consolidate(ctx, scope, lines); err != nil {
			log.Printf("[dozer] consolidate %s failed: %v", scope, err)
		}
	}
}

func (d *Dozer) consolidate(ctx context.Context, scope Scope, lines []pendingLine) error {
	conv := d.renderBatch(lines)

	resp, err := d.chat.Chat(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(extractionPrompt, nothingSentinel, conv)),
	}, nil)
	if err != nil {
		return fmt.Errorf("extraction call: %w", err)
	}

	facts := parseFacts(resp.Content)
	if len(facts) == 0 {
		log.Printf("[dozer] %s: nothing to consolidate (%d messages)", scope, len(lines))
		return nil
	}
	log.Printf("[dozer] %s: %d facts from %d messages", scope, len(facts), len(lines))

	for _, fact := range facts {
		if err := d.reconcile(ctx, scope, fact); err != nil {
			log.Printf("[dozer] reconcile %q failed: %v", truncate(fact, 60), err)
		}
	}
	return nil
}

func (d *Dozer) renderBatch(lines []pendingLine) string {
	var sb strings.Builder
	for _, l := range lines {
		if d.aliases != nil {
			if aliases, ok := d.aliases.Get(l.senderID); ok && len(aliases) > 0 {
				fmt.Fprintf(&sb, "(user_id:%d|%s): %s\n", l.senderID, strings.Join(aliases, "/"), l.text)
				continue
			}
		}
		fmt.Fprintf(&sb, "(user_id:%d): %s\n", l.senderID, l.text)
	}
	return sb.String()
}

// parseFacts decodes the one-JSON-object-per-line extraction output.
// Unparseable lines are skipped; a response that is just the sentinel
// yields no facts.
func parseFacts(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	if stripped := strings.TrimSpace(strings.ReplaceAll(trimmed, nothingSentinel, "")); stripped == "" {
		return nil
	}

	var facts []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == nothingSentinel {
			continue
		}
		var obj struct {
			Info string `json:"info"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			log.Printf("[dozer] skip unparseable line %q", truncate(line, 80))
			continue
		}
		if info := strings.TrimSpace(obj.Info); info != "" {
			facts = append(facts, info)
		}
	}
	return facts
}

// reconcile folds one extracted fact into the store: prior similar
// memories are shown to the model, which answers with add/update/delete
// tool calls executed in order.
func (d *Dozer) reconcile(ctx context.Context, scope Scope, fact string) error {
	prior, err := d.store.Similar(ctx, scope, fact)
	if err != nil {
		return fmt.Errorf("similar: %w", err)
	}

	resp, err := d.chat.Chat(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(reconcilePrompt, renderPrior(prior), fact)),
	}, reconcileTools())
	if err != nil {
		return fmt.Errorf("reconcile call: %w", err)
	}

	for _, call := range resp.ToolCalls {
		if err := d.applyCall(ctx, scope, call); err != nil {
			log.Printf("[dozer] %s skipped: %v", call.Function.Name, err)
		}
	}
	return nil
}

func renderPrior(prior []ScoredMemory) string {
	if len(prior) == 0 {
		return "[]"
	}
	type entry struct {
		ID         int64   `json:"id"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
		CreatedAt  string  `json:"created_at"`
	}
	entries := make([]entry, 0, len(prior))
	for _, p := range prior {
		entries = append(entries, entry{
			ID:         p.ID,
			Content:    p.Content,
			Confidence: p.Confidence,
			CreatedAt:  p.CreatedAt.Format("2006-01-02"),
		})
	}
	data, _ := json.Marshal(entries)
	return string(data)
}

func reconcileTools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "add_memory",
			Description: "添加一条全新的记忆",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"content"},
			},
		},
		{
			Name:        "update_memory",
			Description: "用合并后的内容覆盖一条已有记忆，并设置新的置信度",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":         map[string]any{"type": "integer"},
					"content":    map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
				"required": []string{"id", "content"},
			},
		},
		{
			Name:        "delete_memory",
			Description: "删除一条过时或错误的记忆",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "integer"},
				},
				"required": []string{"id"},
			},
		},
	}
}

func (d *Dozer) applyCall(ctx context.Context, scope Scope, call llm.ToolCall) error {
	switch call.Function.Name {
	case "add_memory":
		var args struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Errorf("bad arguments: %w", err)
		}
		if strings.TrimSpace(args.Content) == "" {
			return fmt.Errorf("empty content")
		}
		_, err := d.store.Create(ctx, scope, args.Content)
		return err

	case "update_memory":
		var args struct {
			ID         int64    `json:"id"`
			Content    string   `json:"content"`
			Confidence *float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Errorf("bad arguments: %w", err)
		}
		confidence := 0.8
		if args.Confidence != nil {
			confidence = *args.Confidence
		}
		_, err := d.store.Merge(ctx, args.ID, args.Content, confidence)
		return err

	case "delete_memory":
		var args struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Errorf("bad arguments: %w", err)
		}
		return d.store.Delete(ctx, args.ID)

	default:
		return fmt.Errorf("unknown call %q", call.Function.Name)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
