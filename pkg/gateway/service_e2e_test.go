package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/config"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/router"
	"jepcobird/pkg/trigger"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage
	sendErr error

	mu       sync.Mutex
	outbound []bus.OutboundMessage
	done     chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		if err := handler(ctx, inbound); err != nil {
			return err
		}
	}

	if a.done != nil {
		close(a.done)
	}

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) Send(_ context.Context, msg bus.OutboundMessage) error {
	if a.sendErr != nil {
		return a.sendErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbound = append(a.outbound, msg)
	return nil
}

func (a *scriptedAdapter) outbounds() []bus.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	outbound := make([]bus.OutboundMessage, len(a.outbound))
	copy(outbound, a.outbound)
	return outbound
}

func (a *scriptedAdapter) contents() []string {
	var out []string
	for _, msg := range a.outbounds() {
		out = append(out, msg.Content)
	}
	return out
}

type failingAdapter struct {
	scriptedAdapter
	runErr error
}

func (a *failingAdapter) Run(context.Context, channel.Handler) error {
	return a.runErr
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Gateway = config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}
	return cfg
}

func startService(t *testing.T, svc *Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()
	return cancel, errCh
}

func waitForExit(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
		return nil
	}
}

func TestGatewayServiceRunE2ERoutesAndConverses(t *testing.T) {
	messageBus := bus.NewMessageBus()
	engine := dialogue.NewEngine(messageBus, dialogue.WithEvents(messageBus), dialogue.WithTimeout(0))
	rt := router.New(engine, router.WithEvents(messageBus))

	rt.Hears("sushi", trigger.AnyAddressed, []string{"寿司", "sushi"}, func(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
		return messageBus.Send(ctx, bus.Reply(msg, "僕も寿司が好きです"))
	})
	rt.Hears("lunch", trigger.DirectMessage, []string{"lunch"}, func(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
		convo, err := engine.Open(msg)
		if err != nil {
			return err
		}
		convo.AskBranches("pizza or ramen?", []dialogue.Branch{
			dialogue.On(trigger.Literal("ramen"), dialogue.Action{Say: []string{"ramen it is"}}),
			dialogue.Otherwise(dialogue.Action{Say: []string{"pizza then"}}),
		})
		convo.Begin(ctx)
		return nil
	})

	alice := bus.InboundMessage{Channel: "telegram", ChatID: "100", SenderID: "alice", Scope: trigger.DirectMessage}
	bob := bus.InboundMessage{Channel: "telegram", ChatID: "200", SenderID: "bob", Scope: trigger.DirectMention}
	with := func(msg bus.InboundMessage, text string) bus.InboundMessage {
		msg.Content = text
		return msg
	}

	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []bus.InboundMessage{
			with(alice, "lunch?"),
			with(bob, "I want sushi"),
			with(alice, "ramen please"),
			with(alice, "more sushi"),
			with(bob, "nothing matches this"),
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(testConfig(t), messageBus, rt, engine, []channel.Adapter{adapter}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := startService(t, svc)
	defer cancel()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}

	require.Eventually(t, func() bool {
		return len(adapter.outbounds()) == 4
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, []string{
		"pizza or ramen?",
		"僕も寿司が好きです",
		"ramen it is",
		"僕も寿司が好きです",
	}, adapter.contents())

	outbounds := adapter.outbounds()
	require.Equal(t, "100", outbounds[0].ChatID)
	require.Equal(t, "200", outbounds[1].ChatID)
	require.Equal(t, "100", outbounds[2].ChatID)
	require.Zero(t, engine.Len())

	cancel()
	require.NoError(t, waitForExit(t, errCh))

	_, err = engine.Open(alice)
	require.ErrorIs(t, err, dialogue.ErrClosed)
}

func TestGatewayServiceRunE2EHandlerFailureKeepsDispatching(t *testing.T) {
	messageBus := bus.NewMessageBus()
	rt := router.New(nil, router.WithEvents(messageBus))

	rt.Hears("boom", trigger.AnyAddressed, []string{"boom"}, func(context.Context, bus.InboundMessage, trigger.Match) error {
		return errors.New("handler exploded")
	})
	rt.Hears("echo", trigger.AnyAddressed, []string{"^echo (.+)$"}, func(ctx context.Context, msg bus.InboundMessage, match trigger.Match) error {
		return messageBus.Send(ctx, bus.Reply(msg, match.Group(1)))
	})

	adapter := &scriptedAdapter{
		name: "matrix",
		inbound: []bus.InboundMessage{
			{Channel: "matrix", ChatID: "!room", SenderID: "@a:x", Scope: trigger.DirectMessage, Content: "boom"},
			{Channel: "matrix", ChatID: "!room", SenderID: "@a:x", Scope: trigger.DirectMessage, Content: "echo hi"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(testConfig(t), messageBus, rt, nil, []channel.Adapter{adapter}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := startService(t, svc)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(adapter.outbounds()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"hi"}, adapter.contents())

	cancel()
	require.NoError(t, waitForExit(t, errCh))
}

func TestGatewayServiceRunE2EDropsUnroutableReplies(t *testing.T) {
	messageBus := bus.NewMessageBus()
	rt := router.New(nil)

	rt.Hears("elsewhere", trigger.AnyAddressed, []string{"ping"}, func(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
		reply := bus.Reply(msg, "lost")
		reply.Channel = "irc"
		if err := messageBus.Send(ctx, reply); err != nil {
			return err
		}
		return messageBus.Send(ctx, bus.Reply(msg, "pong"))
	})

	adapter := &scriptedAdapter{
		name: "console",
		inbound: []bus.InboundMessage{
			{Channel: "console", ChatID: "console", SenderID: "me", Scope: trigger.DirectMessage, Content: "ping"},
		},
	}

	svc, err := NewService(testConfig(t), messageBus, rt, nil, []channel.Adapter{adapter}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := startService(t, svc)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(adapter.outbounds()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"pong"}, adapter.contents())

	cancel()
	require.NoError(t, waitForExit(t, errCh))
}

func TestGatewayServiceRunReturnsChannelError(t *testing.T) {
	messageBus := bus.NewMessageBus()
	adapter := &failingAdapter{
		scriptedAdapter: scriptedAdapter{name: "telegram"},
		runErr:          errors.New("token rejected"),
	}

	svc, err := NewService(testConfig(t), messageBus, router.New(nil), nil, []channel.Adapter{adapter}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := startService(t, svc)
	defer cancel()

	err = waitForExit(t, errCh)
	require.Error(t, err)
	require.Contains(t, err.Error(), "run telegram channel")
	require.Contains(t, err.Error(), "token rejected")
	require.False(t, svc.isReady())
}

func TestGatewayServiceRunEndsWhenChannelsFinish(t *testing.T) {
	messageBus := bus.NewMessageBus()
	adapter := &failingAdapter{scriptedAdapter: scriptedAdapter{name: "console"}}

	cfg := testConfig(t)
	cfg.Gateway.Port = -1
	svc, err := NewService(cfg, messageBus, router.New(nil), nil, []channel.Adapter{adapter}, slog.Default())
	require.NoError(t, err)

	cancel, errCh := startService(t, svc)
	defer cancel()

	require.NoError(t, waitForExit(t, errCh))
	require.False(t, svc.isReady())
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
