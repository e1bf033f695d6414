// Package tui runs the bot in a full-screen bubbletea chat window. Every
// line entered is a direct message; replies, reactions and attachment cards
// are drawn into a scrollable log.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/logger"
)

const (
	channelName = "tui"
	chatID      = "tui"
)

var (
	// ErrNotRunning is returned by Send before Run has started the screen.
	ErrNotRunning = errors.New("tui is not running")
	// ErrQuit is returned by Run when the user leaves the chat window.
	ErrQuit = errors.New("tui closed by user")
)

type Adapter struct {
	user    string
	botName string
	log     *slog.Logger
	opts    []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
}

// NewAdapter draws the chat for user talking to botName. opts are passed to
// tea.NewProgram after the defaults.
func NewAdapter(user, botName string, log *slog.Logger, opts ...tea.ProgramOption) *Adapter {
	if strings.TrimSpace(user) == "" {
		user = "you"
	}
	if strings.TrimSpace(botName) == "" {
		botName = "bot"
	}
	return &Adapter{
		user:    user,
		botName: botName,
		log:     logger.ForComponent(log, "channel.tui"),
		opts:    opts,
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// Run blocks until ctx is done or the user quits.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	m := newModel(ctx, handler, a.user, a.botName)
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)}, a.opts...)
	program := tea.NewProgram(m, opts...)

	a.mu.Lock()
	if a.program != nil {
		a.mu.Unlock()
		return errors.New("tui is already running")
	}
	a.program = program
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.program = nil
		a.mu.Unlock()
	}()

	a.log.Debug("Starting chat screen", "user", a.user)
	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("run chat screen: %w", err)
	}
	if m.quit {
		return ErrQuit
	}
	return nil
}

// Send draws a reply into the running chat.
func (a *Adapter) Send(_ context.Context, msg bus.OutboundMessage) error {
	a.mu.Lock()
	program := a.program
	a.mu.Unlock()

	if program == nil {
		return ErrNotRunning
	}
	program.Send(replyMsg{out: msg})
	return nil
}
