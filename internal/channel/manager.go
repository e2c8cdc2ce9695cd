package channel

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nebulinkco/aster/internal/bus"
	"github.com/nebulinkco/aster/internal/config"
)

type Manager struct {
	channels map[string]Channel
}

func NewManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{channels: make(map[string]Channel)}

	if cfg.OneBot.Enabled {
		ch, err := NewOneBotChannel(cfg.OneBot, b)
		if err != nil {
			return nil, fmt.Errorf("init onebot channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
}

// Poster resolves the outbound half of a channel by name; nil when the
// channel is not configured.
func (m *Manager) Poster(name string) Poster {
	ch, ok := m.channels[name]
	if !ok {
		return nil
	}
	return ch
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
