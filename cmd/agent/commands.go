package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/offsync/offsync/internal/capture"
	"github.com/offsync/offsync/internal/network"
	"github.com/offsync/offsync/internal/queue"
	"github.com/offsync/offsync/internal/service_registry"
	"github.com/offsync/offsync/internal/services"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Long: `Starts connectivity monitoring, the sync engine, capture and the optional live feed.

SIGUSR1 resets the sync circuit breaker and requests an immediate upload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.close()
			return runAgent(cmd.Context(), rt)
		},
	}
}

func runAgent(ctx context.Context, rt *agentRuntime) error {
	log := rt.logger

	engine, err := rt.newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	mqttService, err := rt.newMQTT()
	if err != nil {
		return err
	}
	if mqttService != nil {
		defer mqttService.Disconnect(250)
	}

	if err := rt.enroller.EnsureEnrolled(ctx, rt.creds); err != nil {
		log.Warn().Err(err).Msg("Enrollment deferred to the first sync pass")
	}

	deps := service_registry.Dependencies{
		DeviceInfo: rt.deviceInfo,
		Tracker:    engine,
		Queue:      rt.queue,
		Uploader:   rt.client,
		Reauth:     rt.enroller,
		Network:    network.NewMonitor(rt.config.Network.PollInterval, nil, nil, log),
		Power:      capture.NewBatteryPowerReader(),
	}
	if mqttService != nil {
		deps.MQTTClient = mqttService
	}

	registry := service_registry.NewServiceRegistry(log)
	if err := registry.RegisterServices(rt.config, deps); err != nil {
		return err
	}
	if err := registry.StartServices(); err != nil {
		return err
	}
	log.Info().Msg("All services started successfully")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(signals)

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGUSR1 {
				accepted := registry.Sync.Retry()
				log.Info().Bool("accepted", accepted).Msg("Manual sync retry requested")
				continue
			}
			log.Info().Stringer("signal", sig).Msg("Shutting down gracefully...")
		case <-ctx.Done():
			log.Info().Msg("Shutting down gracefully...")
		}
		return registry.StopServices()
	}
}

// agentStatus is printed by the status command.
type agentStatus struct {
	HardwareID string `json:"hardware_id"`
	Enrolled   bool   `json:"enrolled"`
	Pending    int    `json:"pending"`
	Backend    string `json:"backend"`
	QueuePath  string `json:"queue_path"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enrollment and queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			pending, err := rt.queue.CountPending(cmd.Context())
			if err != nil {
				return err
			}
			_, tokenErr := rt.creds.Token()

			return printJSON(cmd, agentStatus{
				HardwareID: rt.deviceInfo.GetDeviceID(),
				Enrolled:   tokenErr == nil,
				Pending:    pending,
				Backend:    rt.config.Server.BaseURL,
				QueuePath:  rt.config.Queue.Path,
			})
		},
	}
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Upload every pending sample now",
		Long:  "Runs sync passes until the queue is drained or a pass fails, ignoring the circuit breaker.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			syncService := services.NewSyncService(services.SyncConfig{
				BatchSize: rt.config.Sync.BatchSize,
			}, rt.queue, rt.client, rt.enroller, rt.logger)

			uploaded, err := syncService.SyncNow(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d samples\n", uploaded)
			return err
		},
	}
}

func newLocateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Print the current position without queueing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			engine, err := rt.newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), rt.config.Tracking.FreshFixTimeout+5*time.Second)
			defer cancel()

			sample, err := engine.Locate(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, sample)
		},
	}
}

func newClearQueueCommand(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear-queue",
		Short: "Delete delivered samples from the local queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			scope := queue.ClearDelivered
			if all {
				scope = queue.ClearAll
			}
			removed, err := rt.queue.Clear(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d samples\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "also delete samples not yet delivered")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
