package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zde37/ringkv/internal/bootstrap"
	"github.com/zde37/ringkv/internal/config"
)

func newBootstrapCmd() *cobra.Command {
	cfg := config.DefaultRegistryConfig()

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Run the bootstrap registry used for peer discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", envString("HOST", cfg.Host), "Host address to bind to")
	f.IntVar(&cfg.Port, "port", envInt("PORT", cfg.Port), "Port to listen on")
	f.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", cfg.LogLevel), "Log level (trace, debug, info, warn, error)")
	f.StringVar(&cfg.LogFormat, "log-format", envString("LOG_FORMAT", cfg.LogFormat), "Log format (json, console)")

	return cmd
}

func runBootstrap(ctx context.Context, cfg *config.RegistryConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, "")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	registry, err := bootstrap.NewRegistry(cfg, logger)
	if err != nil {
		return err
	}
	if err := registry.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("registry_id", registry.ID()).Str("listen_addr", registry.Addr()).Msg("Bootstrap registry is ready")
	<-ctx.Done()

	logger.Info().Msg("Received shutdown signal")
	return registry.Stop()
}
