package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/actions/axis"
	"example.com/bt-action-bridge/internal/agent"
	mqttc "example.com/bt-action-bridge/internal/mqtt"
)

type options struct {
	broker   string
	prefix   string
	axes     uint32
	limit    uint32
	step     time.Duration
	logLevel string
	jsonLogs bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "axis-sim",
		Short:         "Serve simulated MoveAxis goals over MQTT",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := agent.NewLogger(opts.logLevel, opts.jsonLogs)
			defer func() { _ = logger.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.broker, "broker", "", "MQTT broker URL (default $MQTT_BROKER or tcp://127.0.0.1:1883)")
	f.StringVar(&opts.prefix, "prefix", "lab/actions", "action topic prefix")
	f.Uint32Var(&opts.axes, "axes", 4, "number of simulated axes")
	f.Uint32Var(&opts.limit, "limit", 0, "travel limit in mm; goals beyond it abort (0 disables)")
	f.DurationVar(&opts.step, "step", 20*time.Millisecond, "simulation step")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.BoolVar(&opts.jsonLogs, "json-logs", false, "log as JSON")
	return cmd
}

func serve(ctx context.Context, opts *options, logger *zap.Logger) error {
	client := mqttc.NewClientWithBroker(fmt.Sprintf("axis-sim-%d", os.Getpid()), opts.broker, logger)
	defer client.Disconnect()

	sim := axis.NewSim(opts.axes, opts.limit)
	sim.StepDur = opts.step
	srv := mqttc.NewActionServer[axis.Goal, axis.Feedback, axis.Result](client,
		mqttc.Topics{Prefix: opts.prefix, Action: axis.ActionName}, sim.Execute, logger)
	srv.Accept = sim.Accept
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("axis simulator ready", zap.Uint32("axes", opts.axes), zap.Uint32("limit", opts.limit))
	<-ctx.Done()
	srv.Stop()
	logger.Info("axis simulator stopped")
	return nil
}
