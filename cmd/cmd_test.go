package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"jepcobird/pkg/bus"
	channelpkg "jepcobird/pkg/channel"
	"jepcobird/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func (a testAdapter) Send(_ context.Context, _ bus.OutboundMessage) error { return nil }

func TestAdaptersForTelegramRequiresToken(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bot.Transport = config.TransportTelegram
	_, err := adaptersFor(cfg, nil)
	if !errors.Is(err, config.ErrMissingToken) {
		t.Fatalf("adaptersFor() error = %v, want ErrMissingToken", err)
	}
}

func TestAdaptersForConsole(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bot.Transport = config.TransportConsole
	adapters, err := adaptersFor(cfg, nil)
	if err != nil {
		t.Fatalf("adaptersFor() error = %v", err)
	}
	if len(adapters) != 1 || adapters[0].Name() != config.TransportConsole {
		t.Fatalf("adapters = %v, want one console adapter", adapters)
	}
}

func TestAdaptersForUnknownTransport(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bot.Transport = "slack"
	if _, err := adaptersFor(cfg, nil); err == nil {
		t.Fatal("expected error for unsupported transport")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "matrix"}}
	if got := enabledChannelNames(adapters); got != "telegram,matrix" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,matrix")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	missing := withExitCode(exitMissingToken, fmt.Errorf("telegram transport: %w", config.ErrMissingToken))
	if got := exitCode(missing); got != exitMissingToken {
		t.Fatalf("exitCode(missing token) = %d, want %d", got, exitMissingToken)
	}
	if !errors.Is(missing, config.ErrMissingToken) {
		t.Fatal("exit error should unwrap to ErrMissingToken")
	}
	if got := exitCode(fmt.Errorf("wrapped: %w", missing)); got != exitMissingToken {
		t.Fatalf("exitCode(wrapped) = %d, want %d", got, exitMissingToken)
	}
	if got := exitCode(errors.New("boom")); got != exitFailure {
		t.Fatalf("exitCode(other) = %d, want %d", got, exitFailure)
	}
	if withExitCode(exitFailure, nil) != nil {
		t.Fatal("withExitCode(nil) should stay nil")
	}
}

func TestAdaptersForTUI(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Bot.Transport = config.TransportTUI
	adapters, err := adaptersFor(cfg, nil)
	if err != nil {
		t.Fatalf("adaptersFor() error = %v", err)
	}
	if len(adapters) != 1 || adapters[0].Name() != config.TransportTUI {
		t.Fatalf("adapters = %v, want one tui adapter", adapters)
	}
}

func TestPrepareChatConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		plain     bool
		transport string
	}{
		{name: "window", transport: config.TransportTUI},
		{name: "plain", plain: true, transport: config.TransportConsole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			prepareChatConfig(cfg, config.StorageMemory, false, tt.plain)

			if cfg.Bot.Transport != tt.transport {
				t.Fatalf("transport = %q, want %q", cfg.Bot.Transport, tt.transport)
			}
			if cfg.Gateway.Port >= 0 {
				t.Fatalf("gateway port = %d, want status server disabled", cfg.Gateway.Port)
			}
			if cfg.Storage.Driver != config.StorageMemory {
				t.Fatalf("storage driver = %q, want memory", cfg.Storage.Driver)
			}
			if cfg.Logging.Level != "warn" {
				t.Fatalf("log level = %q, want warn", cfg.Logging.Level)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if err := cfg.RequireToken(); err != nil {
				t.Fatalf("%s transport should not need a token: %v", tt.transport, err)
			}
		})
	}
}

func TestChatLogWriter(t *testing.T) {
	t.Parallel()

	if got := chatLogWriter(config.TransportTUI, false); got != io.Discard {
		t.Fatal("quiet chat window should discard logs")
	}
	if got := chatLogWriter(config.TransportTUI, true); got != os.Stderr {
		t.Fatal("verbose chat window should log to stderr")
	}
	if got := chatLogWriter(config.TransportConsole, false); got != os.Stderr {
		t.Fatal("plain console should log to stderr")
	}
}

func TestVersionString(t *testing.T) {
	if got := versionString(); got == "" {
		t.Fatal("versionString() is empty")
	}
}
