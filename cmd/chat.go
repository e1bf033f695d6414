package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"jepcobird/pkg/channel/tui"
	"jepcobird/pkg/config"
	"jepcobird/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	chatStorage string
	chatVerbose bool
	chatPlain   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot in the terminal",
	Long: `Runs Jepcobird in a full-screen chat window. Every line is treated as a
direct message, so all handlers and conversations can be tried without a chat
account or token. The status server is not started.

Use --plain for a line-based session on stdin and stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		prepareChatConfig(cfg, chatStorage, chatVerbose, chatPlain)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.NewWithWriter(cfg.Logging, chatLogWriter(cfg.Bot.Transport, chatVerbose))
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		adapters, err := adaptersFor(cfg, appLogger)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = serve(runCtx, cfg, adapters, appLogger)
		if errors.Is(err, tui.ErrQuit) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatStorage, "storage", "", "override storage.driver (memory, file, sqlite, redis)")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "log at the configured level instead of warnings only")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "use the line-based console instead of the chat window")
}

// prepareChatConfig switches cfg to a terminal transport with the status
// server off.
func prepareChatConfig(cfg *config.Config, storage string, verbose, plain bool) {
	cfg.Bot.Transport = config.TransportTUI
	if plain {
		cfg.Bot.Transport = config.TransportConsole
	}
	cfg.Gateway.Port = -1
	if storage != "" {
		cfg.Storage.Driver = storage
	}
	if !verbose {
		cfg.Logging.Level = "warn"
	}
}

// chatLogWriter keeps log lines off the chat window unless asked for.
func chatLogWriter(transport string, verbose bool) io.Writer {
	if transport == config.TransportTUI && !verbose {
		return io.Discard
	}
	return os.Stderr
}
