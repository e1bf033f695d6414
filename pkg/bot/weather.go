package bot

import (
	"context"
	"errors"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/trigger"
	"jepcobird/pkg/weather"
)

const (
	replyWhere        = "どこの天気？"
	replyUnknownPlace = "どこそれ？知らないから自分で調べて。"
	replyNoForecast   = "天気わかんないや。へへ"
	replyLookupFailed = "天気わかんなかった。。へへ"
	slotCity          = "city"
)

var weatherTriggers = []string{
	`(天気は？|天気教えて|天気を教えて|天気わかる？)`,
	`(?i)what(?:'s| is) the weather`,
}

// forecast answers straight away when the message names a known city, and
// otherwise asks where.
func (b *Bot) forecast(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	offset := weather.DayOffset(msg.Content)
	if city, ok := b.cities.Resolve(msg.Content); ok {
		b.lookupForecast(ctx, msg, city, offset)
		return nil
	}

	convo, ok, err := b.open(msg)
	if err != nil || !ok {
		return err
	}

	convo.Ask(replyWhere, func(_ context.Context, turn *dialogue.Turn) {
		city, ok := b.cities.Resolve(turn.Text())
		if !ok {
			turn.Stop()
			return
		}
		turn.Set(slotCity, city)
		turn.Next()
	})
	convo.OnEnd(func(c *dialogue.Conversation) {
		city, ok := c.ExtractResponse(slotCity)
		if c.Status() == dialogue.StatusCompleted && ok {
			b.lookupForecast(ctx, msg, city, offset)
			return
		}
		if err := b.reply(ctx, msg, replyUnknownPlace); err != nil {
			b.log.Warn("Failed to send weather reply", "error", err)
		}
	})
	convo.Begin(ctx)
	return nil
}

// lookupForecast fetches in the background so the dispatch worker keeps
// serving other chats while the remote API answers.
func (b *Bot) lookupForecast(ctx context.Context, msg bus.InboundMessage, city string, offset int) {
	if b.weather == nil {
		b.log.Warn("Weather lookup not configured", "city", city)
		if err := b.reply(ctx, msg, replyLookupFailed); err != nil {
			b.log.Warn("Failed to send weather reply", "error", err)
		}
		return
	}

	b.background(func() {
		out := b.forecastReply(ctx, msg, city, offset)
		if err := b.send(ctx, out); err != nil {
			b.log.Warn("Failed to send weather reply", "city", city, "error", err)
		}
	})
}

func (b *Bot) forecastReply(ctx context.Context, msg bus.InboundMessage, city string, offset int) bus.OutboundMessage {
	forecast, day, err := b.weather.Forecast(ctx, city, offset)
	switch {
	case errors.Is(err, weather.ErrNoForecast):
		b.log.Info("No forecast for day", "city", city, "offset", offset)
		return bus.Reply(msg, replyNoForecast)
	case err != nil:
		b.log.Warn("Weather lookup failed", "city", city, "offset", offset, "error", err)
		return bus.Reply(msg, replyLookupFailed)
	default:
		return weather.FormatReply(msg, forecast, day)
	}
}
