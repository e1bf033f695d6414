package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"jepcobird/pkg/bot"
	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/channel/console"
	"jepcobird/pkg/channel/matrix"
	"jepcobird/pkg/channel/telegram"
	"jepcobird/pkg/channel/tui"
	"jepcobird/pkg/config"
	"jepcobird/pkg/dialogue"
	"jepcobird/pkg/gateway"
	"jepcobird/pkg/location"
	"jepcobird/pkg/profile"
	"jepcobird/pkg/router"
	"jepcobird/pkg/weather"
)

// serve wires the bot onto adapters and runs the gateway until ctx ends or
// the user confirms a shutdown.
func serve(ctx context.Context, cfg *config.Config, adapters []channel.Adapter, log *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	profiles, err := profile.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}
	defer func() {
		if err := profiles.Close(); err != nil {
			log.Warn("Failed to close profile store", "error", err)
		}
	}()

	messageBus := bus.NewMessageBus()
	engine := dialogue.NewEngine(messageBus,
		dialogue.WithTimeout(time.Duration(cfg.Dialogue.TimeoutSeconds)*time.Second),
		dialogue.WithMaxRetries(cfg.Dialogue.MaxRetries),
		dialogue.WithEvents(messageBus),
		dialogue.WithLogger(log),
	)
	rt := router.New(engine, router.WithEvents(messageBus), router.WithLogger(log))

	jepcobird, err := bot.New(cfg.Bot.Name, bot.Deps{
		Sender:   messageBus,
		Engine:   engine,
		Profiles: profiles,
		Weather:  weather.NewClient(cfg.Weather.BaseURL, time.Duration(cfg.Weather.TimeoutSeconds)*time.Second),
		Cities:   location.DefaultCities(),
	}, bot.WithLogger(log), bot.WithShutdown(stop, -1))
	if err != nil {
		return fmt.Errorf("initialize bot: %w", err)
	}
	jepcobird.Register(rt)

	svc, err := gateway.NewService(cfg, messageBus, rt, engine, adapters, log)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Gateway started",
		"bot", cfg.Bot.Name,
		"channels", enabledChannelNames(adapters),
		"storage", cfg.Storage.Driver,
		"rules", len(rt.Rules()),
	)
	err = svc.Run(ctx)
	jepcobird.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// adaptersFor builds the adapter for the configured transport.
func adaptersFor(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	switch cfg.Bot.Transport {
	case config.TransportTelegram:
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", config.TransportTelegram, err)
		}
		return []channel.Adapter{adapter}, nil
	case config.TransportMatrix:
		adapter, err := matrix.NewAdapter(cfg.Channels.Matrix, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", config.TransportMatrix, err)
		}
		return []channel.Adapter{adapter}, nil
	case config.TransportConsole:
		return []channel.Adapter{console.NewAdapter(os.Stdin, os.Stdout, currentUser(), cfg.Bot.Name, log)}, nil
	case config.TransportTUI:
		return []channel.Adapter{tui.NewAdapter(currentUser(), cfg.Bot.Name, log)}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Bot.Transport)
	}
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

func currentUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return "you"
}
