package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/offsync/offsync/internal/server/store"
	"github.com/offsync/offsync/internal/utils"
	"github.com/offsync/offsync/pkg/file"
)

const sqliteScheme = "sqlite://"

// rootOptions holds the global flags shared by every server command.
type rootOptions struct {
	ConfigFile string
	EnvFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Location ingestion backend",
		Long:         "Authenticates devices, ingests signed location batches and serves location history.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal outside development.
			if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to the server configuration file (environment only when empty)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the configuration")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDeviceCommand(opts))
	cmd.AddCommand(newPruneCommand(opts))

	return cmd
}

func loadConfig(opts *rootOptions) (*utils.ServerConfig, zerolog.Logger, error) {
	config, err := utils.LoadServerConfig(opts.ConfigFile, file.NewFileService())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return config, utils.NewLogger(config.Log, os.Stdout), nil
}

// openStore connects to PostgreSQL, or to a SQLite file when the DSN starts with sqlite://.
func openStore(ctx context.Context, config *utils.ServerConfig, log zerolog.Logger) (*store.Store, error) {
	dsn := config.Database.DSN
	if path, ok := strings.CutPrefix(dsn, sqliteScheme); ok {
		log.Warn().Str("path", path).Msg("Using SQLite storage")
		return store.OpenSQLite(ctx, path, log)
	}
	return store.Open(ctx, dsn, store.PoolConfig{
		MaxOpenConns:    config.Database.MaxOpenConns,
		MaxIdleConns:    config.Database.MaxIdleConns,
		ConnMaxLifetime: config.Database.ConnMaxLifetime,
	}, log)
}
