// Package console runs the bot against a terminal: every line typed is a
// direct message, and replies are printed with lipgloss styling.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/logger"
	"jepcobird/pkg/trigger"
)

const (
	channelName = "console"
	chatID      = "console"
)

type Adapter struct {
	in     io.Reader
	out    io.Writer
	user   string
	botTag string
	theme  theme
	log    *slog.Logger

	mu sync.Mutex
}

// NewAdapter reads lines from in as messages from user and prints replies to
// out.
func NewAdapter(in io.Reader, out io.Writer, user, botName string, log *slog.Logger) *Adapter {
	if strings.TrimSpace(user) == "" {
		user = "you"
	}
	if strings.TrimSpace(botName) == "" {
		botName = "bot"
	}
	return &Adapter{
		in:     in,
		out:    out,
		user:   user,
		botTag: botName,
		theme:  defaultTheme(),
		log:    logger.ForComponent(log, "channel.console"),
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// Run forwards each non-blank line until EOF or ctx is done.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	a.print(a.theme.banner.Render("📟 "+a.botTag+" console") + "\n")

	var seq int
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			seq++
			msg := bus.InboundMessage{
				Channel:   channelName,
				SenderID:  a.user,
				ChatID:    chatID,
				MessageID: fmt.Sprint(seq),
				Content:   text,
				Timestamp: time.Now().UTC(),
				Scope:     trigger.DirectMessage,
				RequestID: uuid.NewString(),
				Metadata:  map[string]string{"name": a.user},
			}
			if err := handler(ctx, msg); err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
			}
		}
	}
}

// Send prints a reply.
func (a *Adapter) Send(_ context.Context, msg bus.OutboundMessage) error {
	a.print(a.render(msg))
	return nil
}

func (a *Adapter) render(msg bus.OutboundMessage) string {
	var parts []string
	if msg.Reaction != "" {
		parts = append(parts, a.theme.reaction.Render(fmt.Sprintf("(reacted %s)", msg.Reaction)))
	}
	if text := strings.TrimSpace(msg.Content); text != "" {
		parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top,
			a.theme.botTitle.Render(a.botTag), " ", a.theme.botText.Render(text)))
	}
	for _, att := range msg.Attachments {
		parts = append(parts, a.renderAttachment(att))
	}
	if len(parts) == 0 {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

func (a *Adapter) renderAttachment(att bus.Attachment) string {
	var lines []string
	if att.Title != "" {
		lines = append(lines, a.theme.cardTitle.Render(att.Title))
	}
	if att.Text != "" {
		lines = append(lines, att.Text)
	}
	for _, link := range []string{att.TitleLink, att.ImageURL} {
		if link != "" {
			lines = append(lines, a.theme.cardLink.Render(link))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, att.Fallback)
	}
	return a.theme.card(att.Color).Render(strings.Join(lines, "\n"))
}

func (a *Adapter) print(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.WriteString(a.out, text)
}
