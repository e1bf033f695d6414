// Package router dispatches inbound chat messages. A message belonging to an
// active conversation is handed to the dialogue engine; anything else is
// matched against the registered rules in registration order and the first
// match runs its handler once.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/logger"
	"jepcobird/pkg/trigger"
)

// Handler reacts to a message that matched a rule.
type Handler func(ctx context.Context, msg bus.InboundMessage, match trigger.Match) error

type Outcome int

const (
	OutcomeDropped Outcome = iota
	OutcomeConversation
	OutcomeHandled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConversation:
		return "conversation"
	case OutcomeHandled:
		return "handled"
	default:
		return "dropped"
	}
}

// Conversations is the part of the dialogue engine the router needs.
type Conversations interface {
	Advance(ctx context.Context, msg bus.InboundMessage) bool
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

type route struct {
	rule    trigger.Rule
	handler Handler
}

type Router struct {
	conversations Conversations
	events        EventPublisher
	log           *slog.Logger

	mu     sync.RWMutex
	routes []route
}

type Option func(*Router)

func WithEvents(events EventPublisher) Option {
	return func(r *Router) {
		r.events = events
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = logger.ForComponent(log, "router")
		}
	}
}

func New(conversations Conversations, opts ...Option) *Router {
	r := &Router{
		conversations: conversations,
		log:           logger.ForComponent(nil, "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a rule. Rules are evaluated in the order they were
// registered.
func (r *Router) Register(rule trigger.Rule, handler Handler) {
	if handler == nil {
		panic(fmt.Sprintf("router: nil handler for rule %q", rule.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{rule: rule, handler: handler})
}

// Hears registers handler for regular expressions in scope.
func (r *Router) Hears(name string, scope trigger.Scope, exprs []string, handler Handler) {
	r.Register(trigger.Hears(name, scope, exprs...), handler)
}

// Rules lists registered rule names in evaluation order.
func (r *Router) Rules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.rule.Name)
	}
	return names
}

// Route delivers msg. Handler errors and panics are returned wrapped; a
// message nothing matches is dropped without error.
func (r *Router) Route(ctx context.Context, msg bus.InboundMessage) (Outcome, error) {
	if r.conversations != nil && r.conversations.Advance(ctx, msg) {
		return OutcomeConversation, nil
	}

	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	for _, rt := range routes {
		match, ok := rt.rule.Matches(msg.Content, msg.Scope)
		if !ok {
			continue
		}

		event := bus.EventFor(bus.EventMessageRouted, msg)
		event.Rule = rt.rule.Name
		r.publish(event)

		if err := invoke(ctx, rt.handler, msg, match); err != nil {
			failed := bus.EventFor(bus.EventHandlerFailed, msg)
			failed.Rule = rt.rule.Name
			failed.Error = err.Error()
			r.publish(failed)
			return OutcomeHandled, fmt.Errorf("handle %s: %w", rt.rule.Name, err)
		}
		return OutcomeHandled, nil
	}

	r.log.Debug("Message dropped", "channel", msg.Channel, "scope", msg.Scope.String())
	r.publish(bus.EventFor(bus.EventMessageDropped, msg))
	return OutcomeDropped, nil
}

func invoke(ctx context.Context, handler Handler, msg bus.InboundMessage, match trigger.Match) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, msg, match)
}

func (r *Router) publish(event bus.Event) {
	if r.events == nil {
		return
	}
	r.events.PublishEvent(context.Background(), event)
}
