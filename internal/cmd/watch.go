package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/clientsync/pkg/config"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/realtime"
)

var (
	watchTransport   string
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch <resource> [resource...]",
	Short: "Print debounced invalidations for resources",
	Long: `Subscribe to change notifications for each resource (a table name such
as posts or comments) and print a line whenever its cache would be
invalidated, after debouncing and rate limiting.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		settings := config.RealtimeSettings()
		if watchTransport != "" {
			settings.Transport = watchTransport
		}

		if watchMetricsAddr != "" {
			srv := serveMetrics(watchMetricsAddr)
			defer srv.Close()
		}

		channel, err := realtime.Open(ctx, settings, apiSettings().Token)
		if err != nil {
			return err
		}
		defer channel.Close()

		inv := realtime.NewInvalidator(channel, realtime.ConfigFrom(settings),
			realtime.WithMetrics(metrics.Default()))
		defer inv.Close()

		out := cmd.OutOrStdout()
		stamp := color.New(color.FgHiBlack)
		name := color.New(color.FgCyan, color.Bold)
		for _, resource := range args {
			_, err := inv.Subscribe(ctx, resource, func(key string) {
				stats, _ := inv.Stats(key)
				stamp.Fprintf(out, "%s ", time.Now().Format("15:04:05"))
				name.Fprint(out, key)
				fmt.Fprintf(out, " invalidated (%d this window)\n", stats.InvalidationCountInWindow)
			})
			if err != nil {
				return err
			}
		}

		logger.Info("Watching resources", "resources", args, "transport", settings.Transport)
		<-ctx.Done()
		return nil
	},
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)
	return srv
}

func init() {
	watchCmd.Flags().StringVar(&watchTransport, "transport", "", "Push transport: websocket, redis, postgres (default: realtime.transport)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}
