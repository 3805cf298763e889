package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/api"
	"github.com/offsync/offsync/internal/server/auth"
	"github.com/offsync/offsync/internal/server/ingest"
	"github.com/offsync/offsync/internal/server/retention"
	"github.com/offsync/offsync/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, log, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := openStore(ctx, config, log)
			if err != nil {
				return err
			}
			defer s.Close()

			if config.Auth.EnrollmentKey == "" {
				log.Warn().Msg("No enrollment key configured, POST /devices/enroll is disabled")
			}

			guard := auth.NewGuard(s, config.Auth.MaxClockSkew, log)
			server := api.NewHTTP(api.Options{
				Addr:         config.HTTP.Addr,
				ReadTimeout:  config.HTTP.ReadTimeout,
				WriteTimeout: config.HTTP.WriteTimeout,
				MaxBodyBytes: config.HTTP.MaxBodyBytes,
				RateLimit:    config.HTTP.RateLimit.RequestsPerSecond,
				RateBurst:    config.HTTP.RateLimit.Burst,
				ReadAPIKey:   config.Auth.ReadAPIKey,
			}, api.Dependencies{
				DeviceAuth: guard.Middleware,
				Ingest:     ingest.NewService(s, log),
				Devices:    s,
				Enrollment: auth.NewEnrollment(s, config.Auth.EnrollmentKey, config.Auth.BcryptCost, log),
				Health:     s,
			}, log)

			var job *retention.Job
			if config.Retention.Enabled {
				job = newRetentionJob(config, s, log)
				if err := job.Start(); err != nil {
					return err
				}
			}

			var errs []error
			select {
			case err := <-server.Serve():
				if err != nil {
					errs = append(errs, fmt.Errorf("http server: %w", err))
				}
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down gracefully...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
			if job != nil {
				if err := job.Stop(); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

func newRetentionJob(config *utils.ServerConfig, pruner retention.Pruner, log zerolog.Logger) *retention.Job {
	return retention.NewJob(retention.Config{
		Horizon:      config.Retention.Horizon,
		ReplayWindow: config.Auth.ReplayWindow,
		RunHour:      *config.Retention.RunHour,
	}, pruner, log)
}

func newDeviceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage device credentials",
	}
	cmd.AddCommand(newDeviceRegisterCommand(opts))
	return cmd
}

func newDeviceRegisterCommand(opts *rootOptions) *cobra.Command {
	var (
		req   models.EnrollmentRequest
		token string
	)

	cmd := &cobra.Command{
		Use:   "register <hardware-id>",
		Short: "Create a device or rotate its secret",
		Long: `Stores the hash of a device secret. Without --token a random secret is generated and
printed once; it cannot be recovered afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), config, log)
			if err != nil {
				return err
			}
			defer s.Close()

			req.HardwareID = args[0]
			if token == "" {
				if token, err = auth.GenerateToken(); err != nil {
					return err
				}
			}

			enrollment := auth.NewEnrollment(s, config.Auth.EnrollmentKey, config.Auth.BcryptCost, log)
			if err := enrollment.Register(cmd.Context(), req, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hardware_id: %s\ntoken: %s\n", req.HardwareID, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "use this secret instead of generating one")
	cmd.Flags().StringVar(&req.Name, "name", "", "device display name")
	cmd.Flags().StringVar(&req.Model, "model", "", "device hardware model")
	return cmd
}

func newPruneCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Run the retention job once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), config, log)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := newRetentionJob(config, s, log).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d locations and %d nonces\n", res.Locations, res.Nonces)
			return nil
		},
	}
}
