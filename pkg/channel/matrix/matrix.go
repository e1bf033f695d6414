// Package matrix connects the bot to a Matrix homeserver with mautrix.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/config"
	"jepcobird/pkg/logger"
	"jepcobird/pkg/trigger"
)

const (
	channelName = "matrix"
	backoffMin  = 2 * time.Second
	backoffMax  = 5 * time.Minute
)

// Adapter bridges Matrix room messages into bus messages.
type Adapter struct {
	cfg       config.MatrixConfig
	client    *mautrix.Client
	allowFrom channel.AllowList
	log       *slog.Logger

	mu          sync.RWMutex
	displayName string
	directRooms map[id.RoomID]bool
}

func NewAdapter(cfg config.MatrixConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("channels.matrix.access_token: %w", config.ErrMissingToken)
	}
	if strings.TrimSpace(cfg.Homeserver) == "" || strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("channels.matrix.homeserver and channels.matrix.user_id are required")
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}

	return &Adapter{
		cfg:         cfg,
		client:      client,
		allowFrom:   channel.NewAllowList(cfg.AllowFrom),
		log:         logger.ForComponent(log, "channel.matrix"),
		directRooms: make(map[id.RoomID]bool),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run syncs until ctx is done, reconnecting with exponential back-off.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	if resp, err := a.client.GetOwnDisplayName(ctx); err == nil {
		a.mu.Lock()
		a.displayName = resp.DisplayName
		a.mu.Unlock()
	} else {
		a.log.Warn("Could not read own display name", "error", err)
	}

	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix client has no default syncer")
	}
	syncer.OnEventType(event.StateMember, a.handleMembership)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		inbound, ok := a.inbound(ctx, evt)
		if !ok {
			return
		}
		a.log.Info("Received message", "room_id", inbound.ChatID, "sender_id", inbound.SenderID, "scope", inbound.Scope.String(), "content", channel.Preview(inbound.Content))
		if err := handler(ctx, inbound); err != nil {
			a.log.Error("Failed to process inbound message", "error", err)
		}
	})

	a.log.Info("Matrix channel started", "user_id", a.cfg.UserID)

	backoff := backoffMin
	for {
		err := a.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}

		a.log.Error("Matrix sync stopped; reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// handleMembership accepts invites so users can open direct chats.
func (a *Adapter) handleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != a.cfg.UserID || !a.allowFrom.Allows(evt.Sender.String()) {
		return
	}

	if _, err := a.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		a.log.Warn("Failed to join room", "room_id", evt.RoomID, "error", err)
		return
	}
	a.mu.Lock()
	delete(a.directRooms, evt.RoomID)
	a.mu.Unlock()
}

func (a *Adapter) inbound(ctx context.Context, evt *event.Event) (bus.InboundMessage, bool) {
	if evt.Sender == id.UserID(a.cfg.UserID) {
		return bus.InboundMessage{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || (content.MsgType != event.MsgText && content.MsgType != event.MsgNotice) {
		return bus.InboundMessage{}, false
	}
	if strings.TrimSpace(content.Body) == "" || !a.allowFrom.Allows(evt.Sender.String()) {
		return bus.InboundMessage{}, false
	}

	a.mu.RLock()
	displayName := a.displayName
	a.mu.RUnlock()

	scope, text := classify(content.Body, a.isDirect(ctx, evt.RoomID), a.cfg.UserID, displayName)
	return bus.InboundMessage{
		Channel:   channelName,
		SenderID:  evt.Sender.String(),
		ChatID:    evt.RoomID.String(),
		MessageID: evt.ID.String(),
		Content:   text,
		Timestamp: time.UnixMilli(evt.Timestamp).UTC(),
		Scope:     scope,
		RequestID: uuid.NewString(),
	}, true
}

// isDirect treats a room with exactly two joined members as a direct chat.
// Results are cached until the bot's membership changes.
func (a *Adapter) isDirect(ctx context.Context, roomID id.RoomID) bool {
	a.mu.RLock()
	direct, ok := a.directRooms[roomID]
	a.mu.RUnlock()
	if ok {
		return direct
	}

	resp, err := a.client.JoinedMembers(ctx, roomID)
	if err != nil {
		a.log.Debug("Failed to list room members", "room_id", roomID, "error", err)
		return false
	}
	direct = len(resp.Joined) == 2

	a.mu.Lock()
	a.directRooms[roomID] = direct
	a.mu.Unlock()
	return direct
}

// classify derives the scope from the room shape and the message body. A body
// that starts with the bot's user id or display name is a direct mention and
// has the name stripped; one that contains either is a plain mention.
func classify(body string, direct bool, userID, displayName string) (trigger.Scope, string) {
	text := strings.TrimSpace(body)
	names := make([]string, 0, 2)
	for _, name := range []string{userID, displayName} {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	for _, name := range names {
		if len(text) >= len(name) && strings.EqualFold(text[:len(name)], name) {
			stripped := strings.TrimSpace(strings.TrimLeft(text[len(name):], " \t:,"))
			if direct {
				return trigger.DirectMessage, stripped
			}
			return trigger.DirectMention, stripped
		}
	}

	if direct {
		return trigger.DirectMessage, text
	}

	lower := strings.ToLower(text)
	for _, name := range names {
		if strings.Contains(lower, strings.ToLower(name)) {
			return trigger.Mention, text
		}
	}
	return trigger.Ambient, text
}

// Send delivers a reply as a reaction, a text message, and one notice per
// attachment.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	roomID := id.RoomID(msg.ChatID)

	if msg.Reaction != "" && msg.ReplyToID != "" {
		if _, err := a.client.SendReaction(ctx, roomID, id.EventID(msg.ReplyToID), msg.Reaction); err != nil {
			return fmt.Errorf("send matrix reaction: %w", err)
		}
	}

	if text := strings.TrimSpace(msg.Content); text != "" {
		a.log.Info("Sending message", "room_id", msg.ChatID, "content", channel.Preview(text))
		if _, err := a.client.SendText(ctx, roomID, text); err != nil {
			return fmt.Errorf("send matrix message: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		content := attachmentContent(att)
		if _, err := a.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
			return fmt.Errorf("send matrix attachment: %w", err)
		}
	}
	return nil
}

// attachmentContent renders an attachment card as an HTML notice.
func attachmentContent(att bus.Attachment) event.MessageEventContent {
	var plain, html strings.Builder
	if att.Title != "" {
		plain.WriteString(att.Title)
		if att.TitleLink != "" {
			plain.WriteString(" (" + att.TitleLink + ")")
			fmt.Fprintf(&html, `<strong><a href="%s">%s</a></strong>`, escape(att.TitleLink), escape(att.Title))
		} else {
			fmt.Fprintf(&html, "<strong>%s</strong>", escape(att.Title))
		}
	}
	if att.Text != "" {
		if plain.Len() > 0 {
			plain.WriteString("\n")
			html.WriteString("<br>")
		}
		plain.WriteString(att.Text)
		html.WriteString(escape(att.Text))
	}
	if att.ImageURL != "" {
		if plain.Len() > 0 {
			plain.WriteString("\n")
			html.WriteString("<br>")
		}
		plain.WriteString(att.ImageURL)
		fmt.Fprintf(&html, `<a href="%s">%s</a>`, escape(att.ImageURL), escape(att.ImageURL))
	}
	if plain.Len() == 0 {
		plain.WriteString(att.Fallback)
		html.WriteString(escape(att.Fallback))
	}

	return event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          plain.String(),
		Format:        event.FormatHTML,
		FormattedBody: html.String(),
	}
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string {
	return htmlEscaper.Replace(s)
}
