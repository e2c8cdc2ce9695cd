package bus

import (
	"github.com/nebulinkco/aster/internal/message"
)

// MessageBus decouples channels from the agent worker. Channels push
// normalized messages onto Inbound; the gateway's process loop drains it.
type MessageBus struct {
	Inbound chan message.Message
}

func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 64
	}
	return &MessageBus{
		Inbound: make(chan message.Message, size),
	}
}

// Publish enqueues without blocking; a full bus drops the message, which is
// preferable to stalling a websocket read loop.
func (b *MessageBus) Publish(msg message.Message) bool {
	select {
	case b.Inbound <- msg:
		return true
	default:
		return false
	}
}
