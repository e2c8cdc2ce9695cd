package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/nebulinkco/aster/internal/bus"
	"github.com/nebulinkco/aster/internal/config"
	"github.com/nebulinkco/aster/internal/message"
)

const onebotChannelName = "onebot"

const (
	onebotCallTimeout  = 10 * time.Second
	onebotReconnectMin = time.Second
	onebotReconnectMax = 30 * time.Second
)

// apiResponse is one correlated answer from the API endpoint.
type apiResponse struct {
	data    gjson.Result
	retcode int64
}

// OneBotChannel speaks the OneBot v11 forward-websocket protocol. Events
// and API responses share one socket; responses are matched to requests by
// a uuid echo field through one-shot reply channels.
type OneBotChannel struct {
	BaseChannel
	cfg config.OneBotConfig

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan apiResponse

	cancel context.CancelFunc
}

func NewOneBotChannel(cfg config.OneBotConfig, b *bus.MessageBus) (*OneBotChannel, error) {
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("onebot ws_url is required")
	}
	return &OneBotChannel{
		BaseChannel: NewBaseChannel(onebotChannelName, b, nil),
		cfg:         cfg,
		pending:     make(map[string]chan apiResponse),
	}, nil
}

func (c *OneBotChannel) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.connectLoop(ctx)
	log.Printf("[onebot] connecting to %s", c.cfg.WSURL)
	return nil
}

func (c *OneBotChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	log.Printf("[onebot] stopped")
	return nil
}

// connectLoop keeps one live socket, reconnecting with capped backoff.
func (c *OneBotChannel) connectLoop(ctx context.Context) {
	backoff := onebotReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		header := http.Header{}
		if c.cfg.Token != "" {
			header.Set("Authorization", "Bearer "+c.cfg.Token)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, header)
		if err != nil {
			log.Printf("[onebot] dial failed: %v (retry in %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, onebotReconnectMax)
			continue
		}

		log.Printf("[onebot] connected")
		backoff = onebotReconnectMin

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.readLoop(ctx, conn)

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		_ = conn.Close()
		c.failPending()
	}
}

func (c *OneBotChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[onebot] read failed: %v", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *OneBotChannel) handleFrame(data []byte) {
	root := gjson.ParseBytes(data)

	if echo := root.Get("echo"); echo.Exists() && echo.String() != "" {
		c.resolvePending(echo.String(), apiResponse{
			data:    root.Get("data"),
			retcode: root.Get("retcode").Int(),
		})
		return
	}

	switch root.Get("post_type").String() {
	case "message":
		msg, ok := parseOneBotMessage(root)
		if !ok {
			return
		}
		if !c.Bus().Publish(msg) {
			log.Printf("[onebot] bus full, dropped message %d", msg.MessageID)
		}
	case "meta_event":
		// heartbeats and lifecycle events, nothing to do
	default:
	}
}

// parseOneBotMessage normalizes a message event. Only private and group
// messages are produced.
func parseOneBotMessage(root gjson.Result) (message.Message, bool) {
	kind := root.Get("message_type").String()
	if kind != message.KindPrivate && kind != message.KindGroup {
		return message.Message{}, false
	}

	msg := message.Message{
		Channel:   onebotChannelName,
		Kind:      kind,
		MessageID: root.Get("message_id").Int(),
		GroupID:   root.Get("group_id").Int(),
		SelfID:    root.Get("self_id").Int(),
		Sender: message.Sender{
			ID:       root.Get("sender.user_id").Int(),
			Nickname: root.Get("sender.nickname").String(),
			Card:     root.Get("sender.card").String(),
			Role:     root.Get("sender.role").String(),
		},
		Time: time.Unix(root.Get("time").Int(), 0),
	}
	if msg.Sender.ID == 0 {
		msg.Sender.ID = root.Get("user_id").Int()
	}
	if msg.Time.Unix() <= 0 {
		msg.Time = time.Now()
	}

	root.Get("message").ForEach(func(_, seg gjson.Result) bool {
		switch seg.Get("type").String() {
		case "text":
			msg.Segments = append(msg.Segments, message.TextSegment(seg.Get("data.text").String()))
		case "at":
			qq := seg.Get("data.qq").String()
			if target, err := strconv.ParseInt(qq, 10, 64); err == nil {
				msg.Segments = append(msg.Segments, message.AtSegment(target))
			}
		case "face":
			msg.Segments = append(msg.Segments, message.Segment{
				Type:   message.SegFace,
				FaceID: seg.Get("data.id").Int(),
			})
		case "image":
			msg.Segments = append(msg.Segments, message.Segment{
				Type: message.SegImage,
				File: seg.Get("data.file").String(),
				URL:  seg.Get("data.url").String(),
			})
		case "reply":
			msg.Segments = append(msg.Segments, message.Segment{
				Type:   message.SegReply,
				Target: seg.Get("data.id").Int(),
			})
		}
		return true
	})

	return msg, true
}

func (c *OneBotChannel) SendReply(ctx context.Context, to *message.Message, text string) (int64, error) {
	segments := []map[string]any{
		{"type": "text", "data": map[string]any{"text": text}},
	}

	var action string
	params := map[string]any{"message": segments}
	switch {
	case to.IsGroup():
		action = "send_group_msg"
		params["group_id"] = to.GroupID
	case to.IsPrivate():
		action = "send_private_msg"
		params["user_id"] = to.Sender.ID
	default:
		return 0, fmt.Errorf("message has no destination")
	}

	data, err := c.call(ctx, action, params)
	if err != nil {
		return 0, err
	}
	return data.Get("message_id").Int(), nil
}

func (c *OneBotChannel) UploadFile(ctx context.Context, to *message.Message, path, name string) error {
	var action string
	params := map[string]any{"file": path, "name": name}
	switch {
	case to.IsGroup():
		action = "upload_group_file"
		params["group_id"] = to.GroupID
	case to.IsPrivate():
		action = "upload_private_file"
		params["user_id"] = to.Sender.ID
	default:
		return fmt.Errorf("message has no destination")
	}

	_, err := c.call(ctx, action, params)
	return err
}

// call performs one correlated API request over the socket.
func (c *OneBotChannel) call(ctx context.Context, action string, params map[string]any) (gjson.Result, error) {
	echo := uuid.NewString()
	reply := make(chan apiResponse, 1)

	c.pendingMu.Lock()
	c.pending[echo] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(map[string]any{
		"action": action,
		"params": params,
		"echo":   echo,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal %s: %w", action, err)
	}

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		return gjson.Result{}, fmt.Errorf("onebot not connected")
	}
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.connMu.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("write %s: %w", action, err)
	}

	select {
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	case <-time.After(onebotCallTimeout):
		return gjson.Result{}, fmt.Errorf("%s timed out", action)
	case resp, ok := <-reply:
		if !ok {
			return gjson.Result{}, fmt.Errorf("%s: connection lost", action)
		}
		if resp.retcode != 0 {
			return gjson.Result{}, fmt.Errorf("%s failed: retcode %d", action, resp.retcode)
		}
		return resp.data, nil
	}
}

func (c *OneBotChannel) resolvePending(echo string, resp apiResponse) {
	c.pendingMu.Lock()
	reply, ok := c.pending[echo]
	if ok {
		delete(c.pending, echo)
	}
	c.pendingMu.Unlock()
	if ok {
		reply <- resp
	}
}

// failPending wakes every waiter after a disconnect.
func (c *OneBotChannel) failPending() {
	c.pendingMu.Lock()
	for echo, reply := range c.pending {
		close(reply)
		delete(c.pending, echo)
	}
	c.pendingMu.Unlock()
}
