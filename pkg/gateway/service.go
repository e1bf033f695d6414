// Package gateway hosts the bot: it runs the transport adapters, feeds their
// messages through a single dispatch worker, delivers replies back to the
// adapter they came from, and serves health, readiness and metrics over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/config"
	"jepcobird/pkg/logger"
	"jepcobird/pkg/router"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
)

// Dispatcher routes one inbound message. *router.Router satisfies it.
type Dispatcher interface {
	Route(ctx context.Context, msg bus.InboundMessage) (router.Outcome, error)
	Rules() []string
}

// Conversations is the part of the dialogue engine the gateway reports on
// and shuts down. *dialogue.Engine satisfies it.
type Conversations interface {
	Len() int
	Close()
}

type Service struct {
	cfg           config.GatewayConfig
	log           *slog.Logger
	bus           *bus.MessageBus
	dispatcher    Dispatcher
	conversations Conversations
	channels      map[string]channel.Adapter
	metrics       *metrics

	mu            sync.RWMutex
	startedAt     time.Time
	stopped       bool
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status              string                  `json:"status"`
	UptimeSeconds       int64                   `json:"uptime_seconds"`
	Rules               int                     `json:"rules"`
	ActiveConversations int                     `json:"active_conversations"`
	Channels            map[string]channelState `json:"channels"`
}

func NewService(cfg *config.Config, messageBus *bus.MessageBus, dispatcher Dispatcher, conversations Conversations, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if messageBus == nil {
		return nil, errors.New("message bus is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}

	channels := make(map[string]channel.Adapter, len(adapters))
	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		if _, dup := channels[adapter.Name()]; dup {
			return nil, fmt.Errorf("duplicate channel adapter %q", adapter.Name())
		}
		channels[adapter.Name()] = adapter
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg.Gateway,
		log:           logger.ForComponent(log, "gateway.service"),
		bus:           messageBus,
		dispatcher:    dispatcher,
		conversations: conversations,
		channels:      channels,
		metrics:       newMetrics(),
		channelStates: channelStates,
	}, nil
}

// Run blocks until ctx is cancelled or a channel or the status server fails.
// On return the dialogue engine and the bus are closed.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		observeEvents(ctx, s.bus, s.log, s.metrics)
	}()
	go func() {
		defer workers.Done()
		s.dispatchInbound(ctx)
	}()
	go func() {
		defer workers.Done()
		s.deliverOutbound(ctx)
	}()

	channelDone := make(chan error, len(s.channels))
	for name, adapter := range s.channels {
		s.setChannelState(name, channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(name, channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("run %s channel: %w", name, err)
			} else {
				err = nil
			}
			channelDone <- err
		}()
	}

	// The service ends with the first channel failure, or once every
	// channel has returned cleanly.
	var err error
	for running := len(s.channels); running > 0 && err == nil; {
		select {
		case <-ctx.Done():
			running = 0
		case err = <-serverErrors:
		case err = <-channelDone:
			running--
		}
	}

	s.shutdown()
	cancel()
	workers.Wait()
	return err
}

func (s *Service) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.conversations != nil {
		s.conversations.Close()
	}
	s.bus.Close()
}

// handleInbound is the channel.Handler given to every adapter.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) error {
	s.metrics.inbound.WithLabelValues(inbound.Channel).Inc()
	if !s.bus.PublishInbound(ctx, inbound) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return bus.ErrClosed
	}
	return nil
}

// dispatchInbound routes messages one at a time so replies within a chat keep
// arrival order.
func (s *Service) dispatchInbound(ctx context.Context) {
	for {
		inbound, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		outcome, err := s.dispatcher.Route(ctx, inbound)
		s.metrics.routed.WithLabelValues(outcome.String()).Inc()
		if err != nil {
			s.log.Error("Failed to handle message",
				"channel", inbound.Channel,
				"chat_id", inbound.ChatID,
				"request_id", inbound.RequestID,
				"text_preview", channel.Preview(inbound.Content),
				"error", err,
			)
			continue
		}

		s.log.Debug("Message dispatched",
			"channel", inbound.Channel,
			"chat_id", inbound.ChatID,
			"request_id", inbound.RequestID,
			"outcome", outcome.String(),
		)
	}
}

func (s *Service) deliverOutbound(ctx context.Context) {
	for {
		outbound, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		adapter, found := s.channels[outbound.Channel]
		if !found {
			s.metrics.outbound.WithLabelValues(outbound.Channel, "unroutable").Inc()
			s.log.Warn("No adapter for outbound message", "channel", outbound.Channel, "chat_id", outbound.ChatID)
			continue
		}

		if err := adapter.Send(ctx, outbound); err != nil {
			s.metrics.outbound.WithLabelValues(outbound.Channel, "error").Inc()
			s.log.Error("Failed to send message",
				"channel", outbound.Channel,
				"chat_id", outbound.ChatID,
				"request_id", outbound.RequestID,
				"error", err,
			)
			continue
		}
		s.metrics.outbound.WithLabelValues(outbound.Channel, "sent").Inc()
	}
}

// Handler serves /healthz, /readyz and /metrics.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Port
	if port < 0 {
		s.log.Debug("Gateway status server disabled")
		return
	}
	if port == 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	active := 0
	if s.conversations != nil {
		active = s.conversations.Len()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:              status,
		UptimeSeconds:       uptime,
		Rules:               len(s.dispatcher.Rules()),
		ActiveConversations: active,
		Channels:            channels,
	}
}

// isReady reports whether at least one channel is running and the service
// has not begun shutting down.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped || len(s.channelStates) == 0 {
		return false
	}

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
