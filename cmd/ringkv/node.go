package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zde37/ringkv/internal/api"
	"github.com/zde37/ringkv/internal/bootstrap"
	"github.com/zde37/ringkv/internal/config"
	"github.com/zde37/ringkv/internal/gossip"
	"github.com/zde37/ringkv/internal/node"
	"github.com/zde37/ringkv/internal/transport"
	"github.com/zde37/ringkv/pkg"
)

func newNodeCmd() *cobra.Command {
	cfg := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a storage node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.NodeID, "id", envString("NODE_ID", cfg.NodeID), "Node identity (random if unset)")
	f.StringVar(&cfg.Host, "host", envString("HOST", cfg.Host), "Host address to bind to")
	f.IntVar(&cfg.Port, "port", envInt("PORT", cfg.Port), "Port for the HTTP API and gRPC health service")
	f.StringVar(&cfg.AdvertiseAddr, "advertise", envString("ADVERTISE_ADDR", ""), "Address peers use to reach this node (default http://host:port)")
	f.StringVar(&cfg.BootstrapURL, "bootstrap-url", envString("BOOTSTRAP_URL", ""), "Bootstrap registry URL; empty runs standalone")
	f.IntVar(&cfg.RegisterAttempts, "register-attempts", envInt("REGISTER_ATTEMPTS", cfg.RegisterAttempts), "Registration attempts before giving up")
	f.DurationVar(&cfg.RegisterRetryDelay, "register-retry-delay", envDuration("REGISTER_RETRY_DELAY", cfg.RegisterRetryDelay), "Delay between registration attempts")
	f.DurationVar(&cfg.RegisterTimeout, "register-timeout", envDuration("REGISTER_TIMEOUT", cfg.RegisterTimeout), "Timeout of one registry call")
	f.DurationVar(&cfg.SyncInterval, "sync-interval", envDuration("SYNC_INTERVAL", cfg.SyncInterval), "Peer list refresh interval; 0 disables")
	f.DurationVar(&cfg.ForwardTimeout, "forward-timeout", envDuration("FORWARD_TIMEOUT", cfg.ForwardTimeout), "Timeout of a forwarded key operation")
	f.IntVar(&cfg.ProbeAttempts, "probe-attempts", envInt("PROBE_ATTEMPTS", cfg.ProbeAttempts), "Health checks per liveness probe")
	f.DurationVar(&cfg.ProbeInterval, "probe-interval", envDuration("PROBE_INTERVAL", cfg.ProbeInterval), "Sleep between health checks")
	f.DurationVar(&cfg.ProbeTimeout, "probe-timeout", envDuration("PROBE_TIMEOUT", cfg.ProbeTimeout), "Timeout of one health check")
	f.BoolVar(&cfg.GossipEnabled, "gossip", envBool("GOSSIP", cfg.GossipEnabled), "Send periodic messages to random peers")
	f.DurationVar(&cfg.GossipInterval, "gossip-interval", envDuration("GOSSIP_INTERVAL", cfg.GossipInterval), "Interval between random-peer messages")
	f.StringVar(&cfg.SnapshotPath, "snapshot", envString("SNAPSHOT_PATH", ""), "Snapshot file; empty disables persistence")
	f.StringVar(&cfg.DataDir, "data-dir", envString("DATA_DIR", ""), "Directory for /files; empty disables file exchange")
	f.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", cfg.LogLevel), "Log level (trace, debug, info, warn, error)")
	f.StringVar(&cfg.LogFormat, "log-format", envString("LOG_FORMAT", cfg.LogFormat), "Log format (json, console)")
	f.StringVar(&cfg.LogFile, "log-file", envString("LOG_FILE", ""), "Also write logs to this rotated file")

	return cmd
}

func runNode(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	logger.Info().
		Str("node_id", cfg.NodeID).
		Str("address", cfg.Address()).
		Str("bootstrap_url", cfg.BootstrapURL).
		Msg("Starting ringkv node")

	n, err := node.NewNode(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	httpClient := transport.NewHTTPClient(cfg.NodeID, cfg.ForwardTimeout+cfg.RegisterTimeout, logger)
	n.SetRemote(httpClient)

	grpcClient := transport.NewGRPCClient(logger)

	server, err := api.NewServer(n, &api.Config{
		ListenAddr: cfg.ListenAddr(),
		DataDir:    cfg.DataDir,
	}, logger)
	if err != nil {
		cleanup(n, nil, nil, grpcClient, logger)
		return fmt.Errorf("failed to create HTTP API server: %w", err)
	}

	if err := server.Start(); err != nil {
		cleanup(n, nil, nil, grpcClient, logger)
		return fmt.Errorf("failed to start HTTP API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The server is already accepting requests while registration runs, so
	// early requests may see a smaller ring.
	client, err := bootstrap.NewClient(n, httpClient, cfg, logger)
	if err != nil {
		cleanup(n, server, nil, grpcClient, logger)
		return err
	}
	server.SetRegistration(func() string { return client.State().String() })

	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("Node running in degraded membership state")
		}
	}()

	var messenger *gossip.Messenger
	if cfg.GossipEnabled {
		probe := transport.NewProbe(grpcClient, cfg.ProbeAttempts, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
		messenger, err = gossip.NewMessenger(n, httpClient, probe, cfg.GossipInterval, cfg.ForwardTimeout, logger)
		if err != nil {
			cleanup(n, server, nil, grpcClient, logger)
			return err
		}
		messenger.Start(ctx)
	}

	logger.Info().Str("listen_addr", server.Addr()).Msg("ringkv node is ready")

	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")

	cleanup(n, server, messenger, grpcClient, logger)
	logger.Info().Msg("ringkv node shutdown complete")
	return nil
}

// cleanup performs graceful shutdown of all components
func cleanup(n *node.Node, server *api.Server, messenger *gossip.Messenger, grpcClient *transport.GRPCClient, logger *pkg.Logger) {
	logger.Info().Msg("Starting graceful shutdown")

	if messenger != nil {
		messenger.Stop()
	}

	if server != nil {
		if err := server.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping HTTP server")
		}
	}

	// Flushes the last snapshot
	if err := n.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error shutting down node")
	}

	if err := grpcClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing gRPC client")
	}
}
