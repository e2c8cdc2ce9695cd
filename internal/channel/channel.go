package channel

import (
	"context"

	"github.com/nebulinkco/aster/internal/bus"
	"github.com/nebulinkco/aster/internal/message"
)

// Channel is a platform adapter: it turns platform events into normalized
// messages on the bus and carries replies back out.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Poster
}

// Poster is the outbound half of a channel.
type Poster interface {
	// SendReply delivers text to wherever the message came from and
	// returns the platform message id of the sent reply.
	SendReply(ctx context.Context, to *message.Message, text string) (int64, error)
	// UploadFile pushes a local file into the conversation.
	UploadFile(ctx context.Context, to *message.Message, path, name string) error
}

// BaseChannel carries the bits every adapter shares.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed applies the sender allow-list; an empty list allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, id := range c.allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
