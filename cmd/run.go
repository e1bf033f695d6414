package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"jepcobird/pkg/config"
	"jepcobird/pkg/logger"

	"github.com/spf13/cobra"
)

var runTransport string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the chat transport and serve",
	Long: `Runs Jepcobird on the configured transport with health, readiness and
metrics endpoints. The bot token is read from the "token" environment
variable or from the config file; the process exits with status 2 when it
is missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if runTransport != "" {
			cfg.Bot.Transport = runTransport
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}
		if err := cfg.RequireToken(); err != nil {
			return withExitCode(exitMissingToken, fmt.Errorf("specify token in environment: %w", err))
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := logger.ForComponent(appLogger, "cmd.run")

		adapters, err := adaptersFor(cfg, appLogger)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(runCtx, cfg, adapters, appLogger); err != nil {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		log.Info("Gateway stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTransport, "transport", "t", "", "override bot.transport (telegram, matrix, console, tui)")
}
