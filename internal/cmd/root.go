package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/telemetry"
)

var (
	verbose    bool
	configPath string
	token      string

	tracerProvider *sdktrace.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:   "sidechain-sync",
	Short: "Sidechain sync - optimistic mutations and realtime invalidation",
	Long: `sidechain-sync drives the Sidechain client sync layer from the
terminal: watch resources for change notifications, toggle likes
optimistically, and upload media with progress and retry.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		logger.Init(logger.Options{
			Level:   config.GetString("log.level"),
			File:    config.GetString("log.file"),
			Verbose: verbose,
			Stderr:  verbose,
		})

		tp, err := telemetry.InitTracer(cmd.Context(), config.TelemetrySettings())
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		}
		tracerProvider = tp
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tracerProvider == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
		tracerProvider = nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// apiSettings applies the --token flag over configured API settings
func apiSettings() config.API {
	cfg := config.APISettings()
	if token != "" {
		cfg.Token = token
	}
	return cfg
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/sidechain/sync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token (default: auth.token / SIDECHAIN_AUTH_TOKEN)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(versionCmd)
}
