package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nebulinkco/aster/internal/bus"
	"github.com/nebulinkco/aster/internal/config"
	"github.com/nebulinkco/aster/internal/message"
)

const telegramChannelName = "telegram"

// TelegramBot is the slice of the bot API we use, split out for mocking.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(cfg)
}

func (w *tgBotWrapper) StopReceivingUpdates() { w.bot.StopReceivingUpdates() }

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) { return w.bot.Send(c) }

func (w *tgBotWrapper) GetSelf() tgbotapi.User { return w.bot.Self }

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramChannel maps Telegram chats onto the normalized message model:
// private chats partition by user, group chats by the (negative) chat id.
type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	bot        TelegramBot
	botFactory BotFactory
	cancel     context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}, nil
}

// SetBot sets the bot (for testing).
func (t *TelegramChannel) SetBot(bot TelegramBot) { t.bot = bot }

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if t.bot == nil {
		if err := t.initBot(); err != nil {
			return err
		}
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

func (t *TelegramChannel) handleMessage(tg *tgbotapi.Message) {
	senderID := strconv.FormatInt(tg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, tg.From.UserName)
		return
	}

	text := tg.Text
	if text == "" && tg.Caption != "" {
		text = tg.Caption
	}
	if text == "" {
		return
	}

	self := t.bot.GetSelf()
	msg := message.Message{
		Channel:   telegramChannelName,
		MessageID: int64(tg.MessageID),
		SelfID:    self.ID,
		Sender: message.Sender{
			ID:       tg.From.ID,
			Nickname: displayNameOf(tg.From),
		},
		Time: time.Unix(int64(tg.Date), 0),
	}

	if tg.Chat.IsPrivate() {
		msg.Kind = message.KindPrivate
	} else {
		msg.Kind = message.KindGroup
		msg.GroupID = tg.Chat.ID
	}

	// An @mention of the bot or a direct reply to it counts as an at.
	if self.UserName != "" && strings.Contains(text, "@"+self.UserName) {
		text = strings.ReplaceAll(text, "@"+self.UserName, "")
		msg.Segments = append(msg.Segments, message.AtSegment(self.ID))
	}
	if tg.ReplyToMessage != nil && tg.ReplyToMessage.From != nil && tg.ReplyToMessage.From.ID == self.ID {
		msg.Segments = append(msg.Segments, message.AtSegment(self.ID))
	}
	msg.Segments = append(msg.Segments, message.TextSegment(strings.TrimSpace(text)))

	if !t.Bus().Publish(msg) {
		log.Printf("[telegram] bus full, dropped message %d", msg.MessageID)
	}
}

func displayNameOf(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (t *TelegramChannel) SendReply(ctx context.Context, to *message.Message, text string) (int64, error) {
	if t.bot == nil {
		return 0, fmt.Errorf("telegram bot not initialized")
	}

	chatID := to.GroupID
	if to.IsPrivate() {
		chatID = to.Sender.ID
	}
	if chatID == 0 {
		return 0, fmt.Errorf("message has no destination")
	}

	// Telegram caps messages at 4096 chars; split on newlines when
	// possible, never inside a rune.
	const maxLen = 4000
	var lastID int64
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			if idx := strings.LastIndex(chunk[:maxLen], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				cut := maxLen
				for cut > 0 && !utf8.RuneStart(chunk[cut]) {
					cut--
				}
				if cut == 0 {
					cut = maxLen
				}
				chunk = chunk[:cut]
			}
		}
		text = text[len(chunk):]

		sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk))
		if err != nil {
			return 0, fmt.Errorf("send telegram message: %w", err)
		}
		lastID = int64(sent.MessageID)
	}
	return lastID, nil
}

func (t *TelegramChannel) UploadFile(ctx context.Context, to *message.Message, path, name string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID := to.GroupID
	if to.IsPrivate() {
		chatID = to.Sender.ID
	}
	if chatID == 0 {
		return fmt.Errorf("message has no destination")
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	if name != "" {
		doc.Caption = name
	}
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("upload telegram file: %w", err)
	}
	return nil
}
