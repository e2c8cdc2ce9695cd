package tools

import (
	"context"
	"fmt"
)

// AliasSetter is implemented by the alias table; keeping it an interface
// here avoids a dependency on the agent package.
type AliasSetter interface {
	Set(userID int64, alias string)
}

// AddAliasTool records what a user likes to be called, so history and
// extraction rendering can use the name instead of the raw id.
type AddAliasTool struct {
	aliases AliasSetter
}

func NewAddAliasTool(aliases AliasSetter) *AddAliasTool {
	return &AddAliasTool{aliases: aliases}
}

func (t *AddAliasTool) Name() string { return "add_alias" }

func (t *AddAliasTool) Description() string {
	return "记录某个用户的称呼。当你得知一个用户的名字或昵称时调用。"
}

func (t *AddAliasTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{
				"type":        "integer",
				"description": "用户 id",
			},
			"alias": map[string]any{
				"type":        "string",
				"description": "这个用户的称呼",
			},
		},
		"required": []string{"user_id", "alias"},
	}
}

func (t *AddAliasTool) Call(ctx context.Context, args map[string]any, inv Invocation) (string, error) {
	userID, err := int64Arg(args, "user_id")
	if err != nil {
		return "", err
	}
	alias, err := stringArg(args, "alias")
	if err != nil {
		return "", err
	}
	if alias == "" {
		return "", fmt.Errorf("empty alias")
	}

	t.aliases.Set(userID, alias)
	return `{"ok":true}`, nil
}
