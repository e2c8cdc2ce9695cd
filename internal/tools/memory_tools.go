package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebulinkco/aster/internal/memory"
)

// SearchMemoryTool lets the model recall facts from the current scope.
type SearchMemoryTool struct {
	store *memory.Store
}

func NewSearchMemoryTool(store *memory.Store) *SearchMemoryTool {
	return &SearchMemoryTool{store: store}
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }

func (t *SearchMemoryTool) Description() string {
	return "搜索与当前对话相关的长期记忆。输入一句描述你想回忆的内容的话。"
}

func (t *SearchMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "要回忆的内容",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchMemoryTool) Call(ctx context.Context, args map[string]any, inv Invocation) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	hits, err := t.store.Similar(ctx, inv.Scope, query)
	if err != nil {
		return "", fmt.Errorf("search memory: %w", err)
	}
	if len(hits) == 0 {
		return `{"memories":[]}`, nil
	}

	type entry struct {
		ID         int64   `json:"id"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	}
	out := struct {
		Memories []entry `json:"memories"`
	}{}
	for _, h := range hits {
		out.Memories = append(out.Memories, entry{ID: h.ID, Content: h.Content, Confidence: h.Confidence})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

// SaveMemoryTool lets the model write a fact directly, bypassing the
// consolidation pipeline.
type SaveMemoryTool struct {
	store *memory.Store
}

func NewSaveMemoryTool(store *memory.Store) *SaveMemoryTool {
	return &SaveMemoryTool{store: store}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }

func (t *SaveMemoryTool) Description() string {
	return "把一条值得长期记住的信息存入记忆。内容应当独立成句、不依赖上下文。"
}

func (t *SaveMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "要记住的内容",
			},
		},
		"required": []string{"content"},
	}
}

func (t *SaveMemoryTool) Call(ctx context.Context, args map[string]any, inv Invocation) (string, error) {
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}

	mem, err := t.store.Create(ctx, inv.Scope, content)
	if err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return fmt.Sprintf(`{"id":%d}`, mem.ID), nil
}
