// Package channel defines the transport boundary. Adapters turn platform
// events into bus.InboundMessage values with the right trigger.Scope and
// deliver bus.OutboundMessage replies back to the platform.
package channel

import (
	"context"
	"strings"

	"jepcobird/pkg/bus"
)

// Handler accepts one inbound message from an adapter.
type Handler func(context.Context, bus.InboundMessage) error

// Adapter bridges one external transport (for example Telegram) into the bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Send(context.Context, bus.OutboundMessage) error
}

const messagePreviewLimit = 240

// AllowList restricts which senders an adapter forwards. An empty list
// accepts everyone.
type AllowList map[string]struct{}

// NewAllowList normalizes allow_from values into a lookup set.
func NewAllowList(values []string) AllowList {
	if len(values) == 0 {
		return nil
	}

	allowed := make(AllowList, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

func (a AllowList) Allows(senderID string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[strings.TrimSpace(senderID)]
	return ok
}

// Preview returns a bounded log-safe preview of message text.
func Preview(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	cut := messagePreviewLimit
	for cut > 0 && !isRuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
