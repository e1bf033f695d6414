package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/config"
	"jepcobird/pkg/router"
)

type stubDispatcher struct {
	rules []string
}

func (d stubDispatcher) Route(context.Context, bus.InboundMessage) (router.Outcome, error) {
	return router.OutcomeDropped, nil
}

func (d stubDispatcher) Rules() []string {
	return d.rules
}

type countingConversations struct {
	active int
	closed bool
}

func (c *countingConversations) Len() int { return c.active }
func (c *countingConversations) Close()   { c.closed = true }

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {}}}
	if svc.isReady() {
		t.Fatal("expected not ready without a running channel")
	}

	svc.channelStates["telegram"] = channelState{Running: true}
	if !svc.isReady() {
		t.Fatal("expected ready with running channel")
	}

	svc.stopped = true
	if svc.isReady() {
		t.Fatal("expected not ready after shutdown")
	}
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	adapter := &scriptedAdapter{name: "console"}

	if _, err := NewService(nil, messageBus, stubDispatcher{}, nil, []channel.Adapter{adapter}, nil); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := NewService(cfg, messageBus, stubDispatcher{}, nil, nil, nil); err == nil {
		t.Fatal("expected error without adapters")
	}
	if _, err := NewService(cfg, messageBus, stubDispatcher{}, nil, []channel.Adapter{adapter, adapter}, nil); err == nil {
		t.Fatal("expected error for duplicate adapter names")
	}
	if _, err := NewService(cfg, messageBus, stubDispatcher{}, nil, []channel.Adapter{adapter}, nil); err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
}

func TestStatusHandlers(t *testing.T) {
	t.Parallel()

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	conversations := &countingConversations{active: 2}
	svc, err := NewService(config.Default(), messageBus, stubDispatcher{rules: []string{"sushi", "weather"}}, conversations, []channel.Adapter{&scriptedAdapter{name: "telegram"}}, slog.Default())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.startedAt = time.Now().Add(-3 * time.Second)
	handler := svc.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	svc.setChannelState("telegram", channelState{Running: true})

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz status = %d, want %d", rec.Code, http.StatusOK)
	}

	var payload statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.Status != "ready" {
		t.Fatalf("status = %q, want ready", payload.Status)
	}
	if payload.Rules != 2 {
		t.Fatalf("rules = %d, want 2", payload.Rules)
	}
	if payload.ActiveConversations != 2 {
		t.Fatalf("active conversations = %d, want 2", payload.ActiveConversations)
	}
	if payload.UptimeSeconds < 3 {
		t.Fatalf("uptime = %d, want >= 3", payload.UptimeSeconds)
	}
	if !payload.Channels["telegram"].Running {
		t.Fatalf("channels = %#v, want telegram running", payload.Channels)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	t.Parallel()

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	svc, err := NewService(config.Default(), messageBus, stubDispatcher{}, nil, []channel.Adapter{&scriptedAdapter{name: "telegram"}}, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.metrics.routed.WithLabelValues(router.OutcomeHandled.String()).Inc()
	svc.metrics.events.WithLabelValues(string(bus.EventMessageRouted), "sushi", "").Inc()

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`jepcobird_routed_messages_total{outcome="handled"} 1`,
		`jepcobird_events_total{`,
		`rule="sushi"`,
		`type="message_routed"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestLogEventLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logEvent(log, bus.Event{Type: bus.EventConversationAdvance, ConversationID: "c-1"})
	if buf.Len() != 0 {
		t.Fatalf("advance event should log at debug, got %q", buf.String())
	}

	logEvent(log, bus.Event{Type: bus.EventHandlerFailed, Rule: "weather", Error: "boom"})
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "rule=weather") || !strings.Contains(out, "error=boom") {
		t.Fatalf("unexpected handler failure log: %q", out)
	}
}
