package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/config"
	"jepcobird/pkg/logger"
	"jepcobird/pkg/trigger"
)

const (
	channelName = "telegram"

	// Bot API limits, counted in characters.
	captionLimit = 1024
	messageLimit = 4096
)

// photoExtensions are the image types sendPhoto accepts by URL.
var photoExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// ErrNotRunning is returned by Send before Run has connected.
var ErrNotRunning = errors.New("telegram adapter not running")

// Adapter bridges Telegram updates into bus messages.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom channel.AllowList
	log       *slog.Logger

	mu  sync.RWMutex
	bot *telego.Bot
	me  identity
}

// identity is the bot account used to classify mentions.
type identity struct {
	ID       int64
	Username string
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("channels.telegram.token: %w", config.ErrMissingToken)
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       logger.ForComponent(log, "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards text messages to handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	self, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get telegram bot identity: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.me = identity{ID: self.ID, Username: self.Username}
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "username", self.Username)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := a.inbound(update)
			if !ok {
				continue
			}
			a.log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "scope", inbound.Scope.String(), "content", channel.Preview(inbound.Content))

			if err := handler(ctx, inbound); err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
			}
		}
	}
}

// inbound converts an update into a bus message, dropping anything the bot
// should not see.
func (a *Adapter) inbound(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil || strings.TrimSpace(message.Text) == "" {
		return bus.InboundMessage{}, false
	}
	if message.From == nil || message.From.IsBot {
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.allowFrom.Allows(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	a.mu.RLock()
	me := a.me
	a.mu.RUnlock()

	scope, text := classify(message, me)
	return bus.InboundMessage{
		Channel:   channelName,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(message.Chat.ID, 10),
		MessageID: strconv.Itoa(message.MessageID),
		Content:   text,
		Timestamp: time.Unix(message.Date, 0).UTC(),
		Scope:     scope,
		RequestID: uuid.NewString(),
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
			"username":  message.From.Username,
			"name":      message.From.FirstName,
		},
	}, true
}

// classify derives the scope of a message and strips a leading mention.
//
// Private chats are direct messages. In groups a leading @username, or a
// reply to one of the bot's own messages, is a direct mention; @username
// anywhere else is a plain mention; everything else is ambient.
func classify(message *telego.Message, me identity) (trigger.Scope, string) {
	text := strings.TrimSpace(message.Text)
	if message.Chat.Type == telego.ChatTypePrivate {
		return trigger.DirectMessage, stripMention(text, me.Username)
	}

	if me.Username != "" {
		if stripped := stripMention(text, me.Username); stripped != text {
			return trigger.DirectMention, stripped
		}
	}

	if reply := message.ReplyToMessage; reply != nil && reply.From != nil && me.ID != 0 && reply.From.ID == me.ID {
		return trigger.DirectMention, text
	}

	if mentions(text, me.Username) {
		return trigger.Mention, text
	}

	return trigger.Ambient, text
}

// mentions reports whether text contains @username as a whole handle.
func mentions(text, username string) bool {
	if username == "" {
		return false
	}
	lower := strings.ToLower(text)
	handle := "@" + strings.ToLower(username)
	for offset := 0; ; {
		idx := strings.Index(lower[offset:], handle)
		if idx < 0 {
			return false
		}
		end := offset + idx + len(handle)
		if end == len(lower) || !isHandleByte(lower[end]) {
			return true
		}
		offset = end
	}
}

func isHandleByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// stripMention removes a leading "@username" plus any ":" or "," after it.
func stripMention(text, username string) string {
	if username == "" {
		return text
	}
	handle := "@" + username
	if len(text) < len(handle) || !strings.EqualFold(text[:len(handle)], handle) {
		return text
	}
	rest := text[len(handle):]
	if rest != "" && isHandleByte(strings.ToLower(rest[:1])[0]) {
		// "@jepcobirdfan" is somebody else.
		return text
	}
	return strings.TrimSpace(strings.TrimLeft(rest, " \t:,"))
}

// Send delivers a reply: a reaction, the text itself, then one photo or text
// card per attachment.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return ErrNotRunning
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", msg.ChatID, err)
	}

	if msg.Reaction != "" {
		if err := a.react(ctx, bot, chatID, msg); err != nil {
			return err
		}
	}

	if text := strings.TrimSpace(msg.Content); text != "" {
		a.log.Info("Sending message", "chat_id", msg.ChatID, "content", channel.Preview(text))
		if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		if err := sendCard(ctx, bot, chatID, att); err != nil {
			return err
		}
	}

	return nil
}

// sendCard sends att as a photo when its image is a format Telegram accepts,
// and as a plain text message otherwise.
func sendCard(ctx context.Context, bot *telego.Bot, chatID int64, att bus.Attachment) error {
	if isPhotoURL(att.ImageURL) {
		photo := tu.Photo(tu.ID(chatID), tu.FileFromURL(att.ImageURL)).WithCaption(caption(att))
		if _, err := bot.SendPhoto(ctx, photo); err != nil {
			return fmt.Errorf("send telegram photo: %w", err)
		}
		return nil
	}

	text := truncate(cardText(att), messageLimit)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram card: %w", err)
	}
	return nil
}

func (a *Adapter) react(ctx context.Context, bot *telego.Bot, chatID int64, msg bus.OutboundMessage) error {
	messageID, err := strconv.Atoi(msg.ReplyToID)
	if err != nil {
		return fmt.Errorf("parse telegram message id %q: %w", msg.ReplyToID, err)
	}

	err = bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Reaction: []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: msg.Reaction},
		},
	})
	if err != nil {
		return fmt.Errorf("set telegram reaction: %w", err)
	}
	return nil
}

// caption flattens an attachment card into photo caption text.
func caption(att bus.Attachment) string {
	return truncate(cardText(att), captionLimit)
}

func cardText(att bus.Attachment) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{att.Title, att.Text, att.TitleLink} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return att.Fallback
	}
	return strings.Join(parts, "\n")
}

func isPhotoURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return slices.Contains(photoExtensions, strings.ToLower(path.Ext(parsed.Path)))
}

// truncate cuts text to at most limit runes, marking the cut with an
// ellipsis.
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
