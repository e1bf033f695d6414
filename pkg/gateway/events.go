package gateway

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"jepcobird/pkg/bus"
)

type metrics struct {
	registry *prometheus.Registry
	inbound  *prometheus.CounterVec
	routed   *prometheus.CounterVec
	outbound *prometheus.CounterVec
	events   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jepcobird_inbound_messages_total",
				Help: "Messages received from channel adapters",
			},
			[]string{"channel"},
		),
		routed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jepcobird_routed_messages_total",
				Help: "Dispatched messages by routing outcome",
			},
			[]string{"outcome"},
		),
		outbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jepcobird_outbound_messages_total",
				Help: "Replies handed to channel adapters by result",
			},
			[]string{"channel", "result"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jepcobird_events_total",
				Help: "Routing and conversation lifecycle events",
			},
			[]string{"type", "rule", "status"},
		),
	}
	m.registry.MustRegister(m.inbound, m.routed, m.outbound, m.events)
	return m
}

func observeEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger, m *metrics) {
	// The bus drops events for slow subscribers rather than block routing.
	log = log.With("component", "bus.events")
	events, unsubscribe := messageBus.SubscribeEvents(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.events.WithLabelValues(string(event.Type), event.Rule, event.Status).Inc()
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"chat_id", event.ChatID,
		"sender_id", event.SenderID,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.Rule != "" {
		attrs = append(attrs, "rule", event.Rule)
	}
	if event.ConversationID != "" {
		attrs = append(attrs, "conversation_id", event.ConversationID)
	}
	if event.Status != "" {
		attrs = append(attrs, "status", event.Status)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventHandlerFailed:
		log.Error("Bot event", append(attrs, "error", event.Error)...)
	case bus.EventMessageRouted, bus.EventConversationOpened, bus.EventConversationEnded:
		log.Info("Bot event", attrs...)
	default:
		log.Debug("Bot event", attrs...)
	}
}
