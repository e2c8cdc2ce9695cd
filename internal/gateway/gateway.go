package gateway

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nebulinkco/aster/internal/agent"
	"github.com/nebulinkco/aster/internal/bus"
	"github.com/nebulinkco/aster/internal/channel"
	"github.com/nebulinkco/aster/internal/config"
	"github.com/nebulinkco/aster/internal/cron"
	"github.com/nebulinkco/aster/internal/llm"
	"github.com/nebulinkco/aster/internal/memory"
	"github.com/nebulinkco/aster/internal/message"
	"github.com/nebulinkco/aster/internal/tools"
)

const (
	flushJobName = "memory.flush"
	aliasJobName = "aliases.save"

	flushSchedule = "0 */5 * * * *" // every five minutes
	aliasSchedule = "0 0 * * * *"   // hourly
)

// Gateway owns the whole runtime: channels feed the bus, the process loop
// answers commands and hands everything else to the agent worker, and the
// cron service drives consolidation.
type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	store    *memory.Store
	dozer    *memory.Dozer
	aliases  *agent.Aliases
	agent    *agent.Agent
	channels *channel.Manager
	cron     *cron.Service
}

func New(cfg *config.Config) (*Gateway, error) {
	b := bus.NewMessageBus(128)

	embedder := memory.NewEmbedder(cfg.Embedding)
	store, err := memory.NewStore(cfg.Memory.DBPath, embedder)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	aliases, err := agent.LoadAliases(cfg.AliasPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load aliases: %w", err)
	}

	chat := llm.NewClient(cfg.Provider, cfg.Agent.Model, cfg.Agent.MaxTokens)
	dozer := memory.NewDozer(store, chat, aliases, cfg.Memory.FlushThreshold)

	mgr, err := channel.NewManager(cfg.Channels, b)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := tools.NewRegistry(
		tools.NewSearchMemoryTool(store),
		tools.NewSaveMemoryTool(store),
		tools.NewAddAliasTool(aliases),
	)

	posters := func(name string) agent.Poster {
		p := mgr.Poster(name)
		if p == nil {
			return nil
		}
		return p
	}

	g := &Gateway{
		cfg:      cfg,
		bus:      b,
		store:    store,
		dozer:    dozer,
		aliases:  aliases,
		agent:    agent.New(cfg.Agent, chat, registry, dozer, aliases, posters),
		channels: mgr,
		cron:     cron.NewService(cfg.CronStore),
	}
	g.cron.OnJob = g.onCronJob
	return g, nil
}

// Run blocks until the context is cancelled or a termination signal
// arrives, then shuts everything down in order.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		return fmt.Errorf("start cron: %w", err)
	}
	g.ensureJobs()

	agentCh := make(chan message.Message, 16)
	go g.agent.Run(ctx, agentCh)
	go g.processLoop(ctx, agentCh)

	log.Printf("[gateway] running")
	<-ctx.Done()
	g.shutdown()
	return nil
}

// processLoop drains the bus, answering command messages inline and
// forwarding the rest to the agent worker.
func (g *Gateway) processLoop(ctx context.Context, agentCh chan<- message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.bus.Inbound:
			if g.handleCommand(ctx, &msg) {
				continue
			}
			select {
			case agentCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleCommand answers #-prefixed messages without engaging the agent.
func (g *Gateway) handleCommand(ctx context.Context, msg *message.Message) bool {
	text := msg.PlainText()
	if !strings.HasPrefix(text, "#") {
		return false
	}

	poster := g.channels.Poster(msg.Channel)
	if poster == nil {
		return true
	}

	switch {
	case strings.HasPrefix(text, "#echo "):
		reply := strings.TrimSpace(strings.TrimPrefix(text, "#echo "))
		if reply == "" {
			return true
		}
		if _, err := poster.SendReply(ctx, msg, reply); err != nil {
			log.Printf("[gateway] echo failed: %v", err)
		}
	case text == "#status":
		scope := memory.ScopeFor(msg)
		count, err := g.store.Count(ctx, scope)
		if err != nil {
			log.Printf("[gateway] status failed: %v", err)
			return true
		}
		reply := fmt.Sprintf("scope=%s memories=%d pending=%d aliases=%d",
			scope, count, g.dozer.Pending(scope), g.aliases.Len())
		if _, err := poster.SendReply(ctx, msg, reply); err != nil {
			log.Printf("[gateway] status reply failed: %v", err)
		}
	default:
		// unknown commands fall through silently
	}
	return true
}

func (g *Gateway) ensureJobs() {
	if _, err := g.cron.EnsureJob(flushJobName,
		cron.Schedule{Kind: "cron", Expr: flushSchedule},
		cron.Payload{Kind: flushJobName}); err != nil {
		log.Printf("[gateway] ensure %s: %v", flushJobName, err)
	}
	if _, err := g.cron.EnsureJob(aliasJobName,
		cron.Schedule{Kind: "cron", Expr: aliasSchedule},
		cron.Payload{Kind: aliasJobName}); err != nil {
		log.Printf("[gateway] ensure %s: %v", aliasJobName, err)
	}
}

func (g *Gateway) onCronJob(job cron.CronJob) error {
	switch job.Payload.Kind {
	case flushJobName:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		g.dozer.Flush(ctx)
		return nil
	case aliasJobName:
		return g.aliases.Save()
	default:
		return fmt.Errorf("unknown job kind %q", job.Payload.Kind)
	}
}

func (g *Gateway) shutdown() {
	log.Printf("[gateway] shutting down")
	g.cron.Stop()
	g.channels.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	g.dozer.FlushAll(ctx)

	if err := g.aliases.Save(); err != nil {
		log.Printf("[gateway] save aliases: %v", err)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store: %v", err)
	}
	log.Printf("[gateway] stopped")
}
