// Package dialogue runs multi-turn conversations with a single chat user.
//
// A conversation is a queue of steps. Say steps are sent and skipped over;
// Ask steps are sent and then park the conversation until the same user
// replies in the same chat. Replies are evaluated either against a data-only
// branch set or by a ReplyFunc, and end in one of Next, Stop or Repeat. Every
// conversation finishes as completed, stopped or timeout, and its OnEnd
// callbacks run exactly once after it has left the active index.
package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/logger"
)

const DefaultTimeout = 5 * time.Minute

var (
	// ErrBusy is returned by Open when the user already has an active
	// conversation in the chat.
	ErrBusy = errors.New("conversation already active")
	// ErrClosed is returned by Open once the engine has been closed.
	ErrClosed = errors.New("dialogue engine closed")
)

// Sender delivers conversation output. *bus.MessageBus satisfies it.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// EventPublisher receives lifecycle events. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

type Option func(*Engine)

// WithTimeout sets how long an Ask waits for a reply. Zero or negative
// disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithMaxRetries bounds how many unmatched replies and repeats a single
// prompt tolerates before the conversation is stopped. Zero is unbounded.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n < 0 {
			n = 0
		}
		e.maxRetries = n
	}
}

func WithEvents(events EventPublisher) Option {
	return func(e *Engine) {
		e.events = events
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = logger.ForComponent(log, "dialogue.engine")
		}
	}
}

// Engine owns the index of active conversations keyed by
// bus.InboundMessage.ConversationKey.
type Engine struct {
	sender     Sender
	events     EventPublisher
	log        *slog.Logger
	timeout    time.Duration
	maxRetries int
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*Conversation
	closed bool
}

func NewEngine(sender Sender, opts ...Option) *Engine {
	e := &Engine{
		sender:  sender,
		log:     logger.ForComponent(nil, "dialogue.engine"),
		timeout: DefaultTimeout,
		now:     time.Now,
		active:  make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open starts a conversation with the sender of msg. The conversation is
// registered immediately so replies route to it, but nothing is sent until
// Begin.
func (e *Engine) Open(msg bus.InboundMessage) (*Conversation, error) {
	key := msg.ConversationKey()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := e.active[key]; ok {
		e.mu.Unlock()
		return nil, ErrBusy
	}

	c := &Conversation{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: e.now(),
		engine:    e,
		origin:    msg,
		status:    StatusActive,
		slots:     make(map[string]string),
	}
	e.active[key] = c
	e.mu.Unlock()

	e.log.Debug("Conversation opened", "conversation_id", c.ID, "key", key)
	e.publish(c.event(bus.EventConversationOpened))
	return c, nil
}

// Active reports whether key has a conversation awaiting input.
func (e *Engine) Active(key string) bool {
	_, ok := e.Lookup(key)
	return ok
}

func (e *Engine) Lookup(key string) (*Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.active[key]
	return c, ok
}

// Advance delivers msg to the sender's active conversation. It reports
// whether a conversation consumed the message.
func (e *Engine) Advance(ctx context.Context, msg bus.InboundMessage) bool {
	c, ok := e.Lookup(msg.ConversationKey())
	if !ok {
		return false
	}
	c.advance(ctx, msg)
	return true
}

// Cancel stops the conversation for key, if any.
func (e *Engine) Cancel(ctx context.Context, key string) bool {
	c, ok := e.Lookup(key)
	if !ok {
		return false
	}
	c.Stop(ctx)
	return true
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Close rejects new conversations and stops the active ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	open := make([]*Conversation, 0, len(e.active))
	for _, c := range e.active {
		open = append(open, c)
	}
	e.mu.Unlock()

	for _, c := range open {
		c.Stop(context.Background())
	}
}

// release drops c from the index. Callers hold c.mu.
func (e *Engine) release(c *Conversation) {
	e.mu.Lock()
	if e.active[c.Key] == c {
		delete(e.active, c.Key)
	}
	e.mu.Unlock()
}

func (e *Engine) send(ctx context.Context, c *Conversation, msg bus.OutboundMessage) {
	if e.sender == nil {
		return
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		e.log.Warn("Failed to send conversation message", "conversation_id", c.ID, "error", err)
	}
}

func (e *Engine) publish(event bus.Event) {
	if e.events == nil {
		return
	}
	e.events.PublishEvent(context.Background(), event)
}
