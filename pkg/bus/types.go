package bus

import (
	"strings"
	"time"

	"jepcobird/pkg/trigger"
)

// InboundMessage is one chat message delivered by a transport adapter.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	MessageID string            `json:"message_id,omitempty"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Scope     trigger.Scope     `json:"scope"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConversationKey identifies the sender/chat pair a dialogue is bound to.
func (m InboundMessage) ConversationKey() string {
	return strings.Join([]string{m.Channel, m.ChatID, m.SenderID}, ":")
}

// OutboundMessage is a reply addressed back to one chat.
type OutboundMessage struct {
	Channel     string            `json:"channel"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Reaction    string            `json:"reaction,omitempty"`
	ReplyToID   string            `json:"reply_to_id,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Attachment is a rich card passed through to the transport unmodified.
type Attachment struct {
	Fallback  string `json:"fallback,omitempty"`
	Title     string `json:"title,omitempty"`
	TitleLink string `json:"title_link,omitempty"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Color     string `json:"color,omitempty"`
}

// Reply addresses text back to the chat msg came from.
func Reply(msg InboundMessage, text string) OutboundMessage {
	return OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   text,
		RequestID: msg.RequestID,
	}
}

// React builds a reaction to msg itself.
func React(msg InboundMessage, emoji string) OutboundMessage {
	return OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Reaction:  emoji,
		ReplyToID: msg.MessageID,
		RequestID: msg.RequestID,
	}
}

// IsEmpty reports whether there is nothing to deliver.
func (m OutboundMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 && m.Reaction == ""
}
