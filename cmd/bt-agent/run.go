package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/bt-action-bridge/internal/actionnode"
	"example.com/bt-action-bridge/internal/agent"
	"example.com/bt-action-bridge/internal/db"
	httpserver "example.com/bt-action-bridge/internal/http"
	mqttc "example.com/bt-action-bridge/internal/mqtt"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Tick the configured scenario until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = agent.ConfigPath()
			}
			cfg, err := agent.LoadConfig(path)
			if err != nil {
				return err
			}
			logger := agent.NewLogger(cfg.LogLevel, opts.jsonLogs)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg agent.Config, logger *zap.Logger) error {
	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	events := httpserver.NewEventBroker(logger)
	defer events.Close()

	var ps mqttc.PubSub
	if cfg.Transport == agent.TransportMQTT || cfg.MQTTBroker != "" {
		client := mqttc.NewClientWithBroker("agent-"+cfg.AgentID, cfg.MQTTBroker, logger)
		defer client.Disconnect()
		ps = client
	}

	recorder := db.NewRecorder(dbConn, logger)
	defer recorder.Close()

	observers := actionnode.Observers{recorder, events}
	engine, err := agent.NewAgentEngine(cfg, ps, observers, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Start(gctx) })
	if cfg.HTTPAddr != "" {
		srv := httpserver.NewServer(engine.Factory, dbConn, events, logger)
		g.Go(func() error { return srv.Start(gctx, cfg.HTTPAddr) })
	}
	return g.Wait()
}
