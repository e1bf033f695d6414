package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/profile"
	"jepcobird/pkg/trigger"
)

const (
	greetingReaction = "👾"
	slotNickname     = "nickname"
)

var (
	yesPattern = trigger.MustRegex(`(?i)^(yes|yea|yup|yep|ya|sure|ok|y|yeah|yah)\b`)
	noPattern  = trigger.MustRegex(`(?i)^(no|nah|nope|n)\b`)
)

func (b *Bot) hello(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	if err := b.send(ctx, bus.React(msg, greetingReaction)); err != nil {
		b.log.Warn("Failed to add greeting reaction", "error", err)
	}

	name := b.knownName(ctx, msg)
	if name == "" {
		return b.reply(ctx, msg, "Hello.")
	}
	return b.reply(ctx, msg, "Hello "+name+"!!")
}

func (b *Bot) callMe(ctx context.Context, msg bus.InboundMessage, match trigger.Match) error {
	name := strings.TrimSpace(match.Group(1))
	if name == "" {
		return nil
	}
	return b.rename(ctx, msg, name)
}

func (b *Bot) whoAmI(ctx context.Context, msg bus.InboundMessage, _ trigger.Match) error {
	if name := b.knownName(ctx, msg); name != "" {
		return b.reply(ctx, msg, "Your name is "+name)
	}

	convo, ok, err := b.open(msg)
	if err != nil || !ok {
		return err
	}

	convo.Say(ctx, "I do not know your name yet!")
	convo.Ask("What should I call you?", func(_ context.Context, turn *dialogue.Turn) {
		turn.AskBranches("You want me to call you `{{trim .nickname}}`?", []dialogue.Branch{
			dialogue.On(yesPattern, dialogue.Action{Then: dialogue.Next}),
			dialogue.On(noPattern, dialogue.Action{Then: dialogue.Stop}),
			dialogue.Otherwise(dialogue.Action{Then: dialogue.Repeat}),
		})
		turn.Next()
	}, dialogue.WithCapture(slotNickname))
	convo.OnEnd(func(c *dialogue.Conversation) {
		nickname, _ := c.ExtractResponse(slotNickname)
		if c.Status() != dialogue.StatusCompleted || strings.TrimSpace(nickname) == "" {
			if err := b.reply(ctx, msg, "OK, nevermind!"); err != nil {
				b.log.Warn("Failed to send reply", "error", err)
			}
			return
		}

		if err := b.reply(ctx, msg, "OK! I will update my dossier..."); err != nil {
			b.log.Warn("Failed to send reply", "error", err)
		}
		if err := b.rename(ctx, msg, strings.TrimSpace(nickname)); err != nil {
			b.log.Warn("Failed to confirm new name", "error", err)
		}
	})
	convo.Begin(ctx)
	return nil
}

// rename stores name on the sender's profile and confirms it.
func (b *Bot) rename(ctx context.Context, msg bus.InboundMessage, name string) error {
	// Runs inline on the dispatch worker so a later "who am i" sees the write.
	// The timeout bounds how long a slow store can stall that worker.
	ctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()

	id := profileID(msg)
	record, err := b.profiles.Get(ctx, id)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		record = profile.Record{ID: id}
	case err != nil:
		b.log.Warn("Failed to load profile, starting a new one", "profile_id", id, "error", err)
		record = profile.Record{ID: id}
	}

	record.Name = name
	record.UpdatedAt = b.now().UTC()
	if _, err := b.profiles.Save(ctx, record); err != nil {
		b.log.Error("Failed to save profile", "profile_id", id, "error", err)
		return b.reply(ctx, msg, "Sorry, I could not write that down.")
	}

	return b.reply(ctx, msg, fmt.Sprintf("Got it. I will call you %s from now on.", name))
}

// knownName returns the sender's stored name. Store failures count as not
// knowing it.
func (b *Bot) knownName(ctx context.Context, msg bus.InboundMessage) string {
	// Inline for the same ordering as rename.
	ctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()

	name, err := profile.Name(ctx, b.profiles, profileID(msg))
	if err != nil {
		b.log.Warn("Failed to load profile", "profile_id", profileID(msg), "error", err)
		return ""
	}
	return name
}

// profileID scopes users by transport since sender ids are only unique
// within one.
func profileID(msg bus.InboundMessage) string {
	return msg.Channel + ":" + msg.SenderID
}
