package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jepcobird/pkg/trigger"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	in := InboundMessage{Channel: "console", ChatID: "c1", SenderID: "u1", Content: "hello", Scope: trigger.DirectMessage}
	if ok := mb.PublishInbound(context.Background(), in); !ok {
		t.Fatal("expected inbound publish to succeed")
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected inbound consume to succeed")
	}
	if out.Content != in.Content {
		t.Fatalf("content = %q, want %q", out.Content, in.Content)
	}
	if out.Scope != trigger.DirectMessage {
		t.Fatalf("scope = %v, want %v", out.Scope, trigger.DirectMessage)
	}
}

func TestSendQueuesReply(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	msg := InboundMessage{Channel: "console", ChatID: "c1", SenderID: "u1", RequestID: "r1"}
	if err := mb.Send(context.Background(), Reply(msg, "world")); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	out, ok := mb.SubscribeOutbound(context.Background())
	if !ok {
		t.Fatal("expected outbound subscribe to succeed")
	}
	if out.Content != "world" || out.ChatID != "c1" || out.RequestID != "r1" {
		t.Fatalf("outbound = %+v", out)
	}
}

func TestSendSkipsEmptyReplies(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	if err := mb.Send(context.Background(), OutboundMessage{Channel: "console", Content: "  "}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := mb.SubscribeOutbound(ctx); ok {
		t.Fatal("expected no outbound message for empty reply")
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}
	if ok := mb.PublishOutbound(context.Background(), OutboundMessage{Content: "hello"}); ok {
		t.Fatal("expected outbound publish to fail after close")
	}
	if err := mb.Send(context.Background(), OutboundMessage{Content: "hello"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send error = %v, want %v", err, ErrClosed)
	}

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
	if _, ok := mb.SubscribeOutbound(context.Background()); ok {
		t.Fatal("expected outbound subscribe to stop after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
	if err := mb.Send(ctx, OutboundMessage{Content: "hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send error = %v, want %v", err, context.Canceled)
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestConversationKey(t *testing.T) {
	t.Parallel()

	msg := InboundMessage{Channel: "telegram", ChatID: "42", SenderID: "7"}
	if got := msg.ConversationKey(); got != "telegram:42:7" {
		t.Fatalf("ConversationKey = %q, want %q", got, "telegram:42:7")
	}
}

func TestReactAddressesOriginalMessage(t *testing.T) {
	t.Parallel()

	out := React(InboundMessage{Channel: "telegram", ChatID: "42", MessageID: "99"}, "👾")
	if out.ReplyToID != "99" || out.Reaction != "👾" {
		t.Fatalf("React = %+v", out)
	}
	if out.IsEmpty() {
		t.Fatal("expected reaction to count as deliverable")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := EventFor(EventMessageRouted, InboundMessage{Channel: "console", RequestID: "1"})
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventMessageRouted {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventMessageRouted)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s expected event timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventConversationOpened}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventConversationEnded}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageDropped}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestPublishEventRacesUnsubscribeAndClose(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	var publishers sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					mb.PublishEvent(ctx, Event{Type: EventConversationEnded})
				}
			}
		}()
	}

	for range 200 {
		_, unsubscribe := mb.SubscribeEvents(ctx, 1)
		unsubscribe()
	}
	for range 20 {
		mb.SubscribeEvents(ctx, 1)
	}
	mb.Close()

	close(stop)
	publishers.Wait()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageDropped}); ok {
		t.Fatal("expected publish after close to fail")
	}
}
