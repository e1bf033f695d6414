// Package bot holds Jepcobird's handlers: the trigger rules it listens for and
// the replies and conversations each one produces.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/location"
	"jepcobird/pkg/logger"
	"jepcobird/pkg/profile"
	"jepcobird/pkg/router"
	"jepcobird/pkg/trigger"
	"jepcobird/pkg/weather"
)

const (
	DefaultName          = "jepcobird"
	defaultShutdownDelay = 3 * time.Second
	defaultStoreTimeout  = 5 * time.Second
)

// Router is where handlers are registered. *router.Router satisfies it.
type Router interface {
	Hears(name string, scope trigger.Scope, exprs []string, handler router.Handler)
}

// Forecaster looks up one day of a city's forecast. *weather.Client
// satisfies it.
type Forecaster interface {
	Forecast(ctx context.Context, city string, offset int) (weather.Forecast, weather.Day, error)
}

// Deps are the collaborators the handlers reply through and look things up
// in.
type Deps struct {
	Sender   dialogue.Sender
	Engine   *dialogue.Engine
	Profiles profile.Store
	Weather  Forecaster
	Cities   *location.Resolver
}

type Option func(*Bot)

func WithLogger(log *slog.Logger) Option {
	return func(b *Bot) {
		if log != nil {
			b.log = logger.ForComponent(log, "bot")
		}
	}
}

// WithShutdown sets what the shutdown conversation calls once confirmed, and
// how long it waits after saying goodbye.
func WithShutdown(fn func(), delay time.Duration) Option {
	return func(b *Bot) {
		b.shutdown = fn
		if delay >= 0 {
			b.shutdownDelay = delay
		}
	}
}

// WithStartTime sets the instant uptime is measured from.
func WithStartTime(t time.Time) Option {
	return func(b *Bot) {
		b.startedAt = t
	}
}

func WithHostname(fn func() (string, error)) Option {
	return func(b *Bot) {
		if fn != nil {
			b.hostname = fn
		}
	}
}

type Bot struct {
	name     string
	sender   dialogue.Sender
	engine   *dialogue.Engine
	profiles profile.Store
	weather  Forecaster
	cities   *location.Resolver
	log      *slog.Logger

	startedAt     time.Time
	now           func() time.Time
	hostname      func() (string, error)
	shutdown      func()
	shutdownDelay time.Duration

	pending sync.WaitGroup
}

func New(name string, deps Deps, opts ...Option) (*Bot, error) {
	if deps.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("dialogue engine is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if deps.Cities == nil {
		deps.Cities = location.DefaultCities()
	}
	if name == "" {
		name = DefaultName
	}

	b := &Bot{
		name:          name,
		sender:        deps.Sender,
		engine:        deps.Engine,
		profiles:      deps.Profiles,
		weather:       deps.Weather,
		cities:        deps.Cities,
		log:           logger.ForComponent(nil, "bot"),
		startedAt:     time.Now(),
		now:           time.Now,
		hostname:      os.Hostname,
		shutdownDelay: defaultShutdownDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Register adds every handler to r. Order matters: the first matching rule
// wins, so the catch-all mention reply shadows the rules after it when the
// bot is mentioned in passing.
func (b *Bot) Register(r Router) {
	r.Hears("sushi", trigger.AnyAddressed, []string{`(?i)^(sushi|すし|スシ|寿司)$`}, b.sushi)
	r.Hears("weather", trigger.DirectMessage|trigger.DirectMention, weatherTriggers, b.forecast)
	r.Hears("mentioned", trigger.Mention, []string{""}, b.mentioned)
	r.Hears("introduce", trigger.DirectMention, []string{"自己紹介"}, b.introduce)
	r.Hears("hello", trigger.AnyAddressed, []string{`(?i)\b(hello|hi)\b`}, b.hello)
	r.Hears("call_me", trigger.AnyAddressed, []string{`(?i)call me (.+)`, `(?i)my name is (.+)`}, b.callMe)
	r.Hears("who_am_i", trigger.AnyAddressed, []string{`(?i)what is my name`, `(?i)who am i`}, b.whoAmI)
	r.Hears("shutdown", trigger.AnyAddressed, []string{`(?i)\bshutdown\b`}, b.confirmShutdown)
	r.Hears("uptime", trigger.AnyAddressed, []string{`(?i)uptime`, `(?i)identify yourself`, `(?i)who are you`, `(?i)what is your name`}, b.uptime)
}

// Wait blocks until background lookups started by handlers have replied.
func (b *Bot) Wait() {
	b.pending.Wait()
}

func (b *Bot) sushi(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	return b.reply(ctx, msg, "僕も寿司が好きです")
}

func (b *Bot) mentioned(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	return b.reply(ctx, msg, "呼んだ？")
}

func (b *Bot) introduce(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	return b.reply(ctx, msg, "おいらはJepcobirdだお。")
}

func (b *Bot) reply(ctx context.Context, msg bus.InboundMessage, text string) error {
	return b.send(ctx, bus.Reply(msg, text))
}

func (b *Bot) send(ctx context.Context, out bus.OutboundMessage) error {
	if err := b.sender.Send(ctx, out); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// open starts a conversation, declining quietly when the user is already in
// one.
func (b *Bot) open(msg bus.InboundMessage) (*dialogue.Conversation, bool, error) {
	convo, err := b.engine.Open(msg)
	if errors.Is(err, dialogue.ErrBusy) {
		b.log.Info("Conversation already active", "channel", msg.Channel, "chat_id", msg.ChatID, "sender_id", msg.SenderID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open conversation: %w", err)
	}
	return convo, true, nil
}

// background runs fn off the dispatch worker and tracks it for Wait.
func (b *Bot) background(fn func()) {
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		fn()
	}()
}
