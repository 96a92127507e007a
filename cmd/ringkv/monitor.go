package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zde37/ringkv/internal/config"
	"github.com/zde37/ringkv/internal/monitor"
	"github.com/zde37/ringkv/internal/transport"
)

func newMonitorCmd() *cobra.Command {
	cfg := config.DefaultMonitorConfig()

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the dashboard that polls every node's metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", envString("HOST", cfg.Host), "Host address to bind to")
	f.IntVar(&cfg.Port, "port", envInt("PORT", cfg.Port), "Port to listen on")
	f.StringVar(&cfg.BootstrapURL, "bootstrap-url", envString("BOOTSTRAP_URL", cfg.BootstrapURL), "Bootstrap registry URL")
	f.DurationVar(&cfg.PollInterval, "poll-interval", envDuration("POLL_INTERVAL", cfg.PollInterval), "Interval between polls")
	f.DurationVar(&cfg.ListTimeout, "list-timeout", envDuration("LIST_TIMEOUT", cfg.ListTimeout), "Timeout of the registry peer list call")
	f.DurationVar(&cfg.ScrapeTimeout, "scrape-timeout", envDuration("SCRAPE_TIMEOUT", cfg.ScrapeTimeout), "Timeout of one metrics scrape")
	f.StringVar(&cfg.DashboardDir, "dashboard-dir", envString("DASHBOARD_DIR", ""), "Static dashboard served at /")
	f.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", cfg.LogLevel), "Log level (trace, debug, info, warn, error)")
	f.StringVar(&cfg.LogFormat, "log-format", envString("LOG_FORMAT", cfg.LogFormat), "Log format (json, console)")

	return cmd
}

func runMonitor(ctx context.Context, cfg *config.MonitorConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, "")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	client := transport.NewHTTPClient("monitor", cfg.ListTimeout+cfg.ScrapeTimeout, logger)

	poller, err := monitor.NewPoller(client, client, monitor.PollerConfig{
		BootstrapURL:  cfg.BootstrapURL,
		Interval:      cfg.PollInterval,
		ListTimeout:   cfg.ListTimeout,
		ScrapeTimeout: cfg.ScrapeTimeout,
	}, logger)
	if err != nil {
		return err
	}

	server, err := monitor.NewServer(poller, cfg.ListenAddr(), cfg.DashboardDir, logger)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller.Start(ctx)
	logger.Info().Str("bootstrap_url", cfg.BootstrapURL).Msg("Monitor is ready")

	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")

	poller.Stop()
	return server.Stop()
}
