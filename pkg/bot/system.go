package bot

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/trigger"
)

const slotShutdown = "shutdown"

func (b *Bot) confirmShutdown(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	convo, ok, err := b.open(msg)
	if err != nil || !ok {
		return err
	}

	convo.AskBranches("Are you sure you want me to shutdown?", []dialogue.Branch{
		dialogue.On(yesPattern, dialogue.Action{
			Say:  []string{"Bye!"},
			Set:  map[string]string{slotShutdown: "yes"},
			Then: dialogue.Next,
		}),
		dialogue.Otherwise(dialogue.Action{
			Say:  []string{"*Phew!*"},
			Then: dialogue.Next,
		}),
	})
	convo.OnEnd(func(c *dialogue.Conversation) {
		confirmed, _ := c.ExtractResponse(slotShutdown)
		if c.Status() != dialogue.StatusCompleted || confirmed != "yes" {
			return
		}

		b.log.Info("Shutdown confirmed", "channel", msg.Channel, "sender_id", msg.SenderID, "delay", b.shutdownDelay)
		if b.shutdown == nil {
			b.log.Warn("No shutdown hook configured, staying up")
			return
		}
		time.AfterFunc(b.shutdownDelay, b.shutdown)
	})
	convo.Begin(ctx)
	return nil
}

func (b *Bot) uptime(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	host, err := b.hostname()
	if err != nil {
		b.log.Warn("Failed to read host name", "error", err)
		host = "an unknown host"
	}

	uptime := FormatUptime(b.now().Sub(b.startedAt))
	return b.reply(ctx, msg, fmt.Sprintf("🤖 I am a bot named %s. I have been running for %s on %s.", b.name, uptime, host))
}

// FormatUptime renders d in seconds, moving up to minutes and then hours
// while the value exceeds 60, e.g. "1.5 minutes" or "1 hour".
func FormatUptime(d time.Duration) string {
	value := d.Seconds()
	unit := "second"
	if value > 60 {
		value /= 60
		unit = "minute"
	}
	if value > 60 {
		value /= 60
		unit = "hour"
	}

	value = math.Round(value*10) / 10
	if value != 1 {
		unit += "s"
	}
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + unit
}
