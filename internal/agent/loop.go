package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nebulinkco/aster/internal/config"
	"github.com/nebulinkco/aster/internal/llm"
	"github.com/nebulinkco/aster/internal/memory"
	"github.com/nebulinkco/aster/internal/message"
	"github.com/nebulinkco/aster/internal/tools"
)

// Chatter is the slice of the completion client the loop needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Message, error)
}

// Poster dispatches a reply back to where a message came from and returns
// the platform message id.
type Poster interface {
	SendReply(ctx context.Context, to *message.Message, text string) (int64, error)
}

// PosterFunc resolves the Poster for a channel name; nil means the channel
// is gone and the turn is dropped.
type PosterFunc func(channel string) Poster

// Agent is the single conversation worker: it consumes normalized inbound
// messages, maintains per-channel history, and runs the tool-calling loop
// for the messages that clear the engagement gate.
type Agent struct {
	cfg      config.AgentConfig
	chat     Chatter
	registry *tools.Registry
	dozer    *memory.Dozer
	aliases  *Aliases
	posters  PosterFunc

	system string
	window time.Duration

	mu        sync.Mutex
	histories map[ChannelID]*History
}

func New(cfg config.AgentConfig, chat Chatter, registry *tools.Registry, dozer *memory.Dozer, aliases *Aliases, posters PosterFunc) *Agent {
	return &Agent{
		cfg:       cfg,
		chat:      chat,
		registry:  registry,
		dozer:     dozer,
		aliases:   aliases,
		posters:   posters,
		system:    buildSystemPrompt(cfg),
		window:    time.Duration(cfg.HistoryWindowSec) * time.Second,
		histories: make(map[ChannelID]*History),
	}
}

// Run drains the inbound channel until the context is cancelled. Messages
// are handled one at a time; history maps stay consistent without any
// cross-message locking.
func (a *Agent) Run(ctx context.Context, inbound <-chan message.Message) {
	log.Printf("[agent] worker started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("[agent] worker stopped")
			return
		case msg, ok := <-inbound:
			if !ok {
				log.Printf("[agent] inbound closed")
				return
			}
			if err := a.Resolve(ctx, &msg); err != nil {
				log.Printf("[agent] resolve failed: %v", err)
			}
		}
	}
}

// Resolve handles one inbound message end to end.
func (a *Agent) Resolve(ctx context.Context, msg *message.Message) error {
	a.dozer.Append(msg)

	cid, ok := ChannelFor(msg)
	if !ok {
		return nil
	}

	selfID := a.selfID(msg)
	if msg.Sender.ID == selfID {
		return nil
	}

	hist := a.history(cid)
	hist.InsertUser(msg)
	buffing := hist.Buffing()

	text := msg.PlainText()
	if !ShouldEngage(text, a.cfg.NameVariants, msg.Mentions(selfID), buffing) {
		return nil
	}

	return a.orchestrate(ctx, msg, hist)
}

// History returns the channel's history, for tests and status.
func (a *Agent) History(cid ChannelID) *History {
	return a.history(cid)
}

func (a *Agent) history(cid ChannelID) *History {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.histories[cid]
	if !ok {
		h = NewHistory()
		a.histories[cid] = h
	}
	return h
}

func (a *Agent) selfID(msg *message.Message) int64 {
	if msg.SelfID != 0 {
		return msg.SelfID
	}
	return a.cfg.SelfID
}

// orchestrate runs the bounded tool loop: each round either ends with a
// dispatched reply or feeds tool results back for another round. When the
// round cap is hit the agent gives up and sends the fallback line.
func (a *Agent) orchestrate(ctx context.Context, msg *message.Message, hist *History) error {
	poster := a.posters(msg.Channel)
	if poster == nil {
		return fmt.Errorf("no poster for channel %q", msg.Channel)
	}

	inv := tools.Invocation{Msg: msg, Scope: memory.ScopeFor(msg)}
	messages := []llm.Message{
		llm.SystemMessage(a.system),
		llm.UserMessage(hist.RenderPrompt(a.aliases, a.window, time.Now())),
	}

	for round := 0; round < a.cfg.MaxToolRounds; round++ {
		resp, err := a.chat.Chat(ctx, messages, a.registry.Specs())
		if err != nil {
			return fmt.Errorf("chat round %d: %w", round, err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				log.Printf("[agent] model chose silence")
				return nil
			}
			return a.dispatch(ctx, poster, msg, hist, resp.Content)
		}

		messages = append(messages, *resp)
		for _, call := range resp.ToolCalls {
			result := a.registry.Execute(ctx, call, inv)
			messages = append(messages, result)
			hist.PushTool(call.Function.Name, result.Content, time.Now())
		}
	}

	log.Printf("[agent] tool rounds exhausted (%d), falling back", a.cfg.MaxToolRounds)
	return a.dispatch(ctx, poster, msg, hist, a.cfg.FallbackReply)
}

// dispatch sends the reply; only a successful send touches history and
// re-arms the conversation buff.
func (a *Agent) dispatch(ctx context.Context, poster Poster, msg *message.Message, hist *History, text string) error {
	msgID, err := poster.SendReply(ctx, msg, text)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	log.Printf("[agent] replied to %s (message_id=%d)", memory.ScopeFor(msg), msgID)
	hist.PushAssistant(text, time.Now())
	return nil
}
