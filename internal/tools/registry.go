package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nebulinkco/aster/internal/llm"
	"github.com/nebulinkco/aster/internal/memory"
	"github.com/nebulinkco/aster/internal/message"
)

// Invocation carries the per-message context a tool may need.
type Invocation struct {
	Msg   *message.Message
	Scope memory.Scope
}

type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON schema object describing the arguments.
	Parameters() map[string]any
	Call(ctx context.Context, args map[string]any, inv Invocation) (string, error)
}

// Registry holds the fixed tool set offered to the model. Failures never
// escape Execute: the model gets a synthetic error result and the loop
// keeps going.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Specs renders the registered tools as function definitions, in
// registration order.
func (r *Registry) Specs() []llm.Tool {
	specs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// Execute runs one requested call and always produces a tool-role message
// to feed back, encoding failures as {"error": ...}.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall, inv Invocation) llm.Message {
	name := call.Function.Name

	t, ok := r.tools[name]
	if !ok {
		log.Printf("[tools] unknown tool %q requested", name)
		return llm.ToolResultMessage(call.ID, errorResult(fmt.Sprintf("unknown tool %q", name)))
	}

	args := map[string]any{}
	if raw := call.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			log.Printf("[tools] %s: bad arguments %q: %v", name, raw, err)
			return llm.ToolResultMessage(call.ID, errorResult("malformed arguments: "+err.Error()))
		}
	}

	out, err := t.Call(ctx, args, inv)
	if err != nil {
		log.Printf("[tools] %s failed: %v", name, err)
		return llm.ToolResultMessage(call.ID, errorResult(err.Error()))
	}
	return llm.ToolResultMessage(call.ID, out)
}

func errorResult(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// argument helpers

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func int64Arg(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		var id int64
		if _, err := fmt.Sscanf(n, "%d", &id); err != nil {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
}
