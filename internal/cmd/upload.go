package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/config"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/resources"
	"github.com/zfogg/sidechain/clientsync/pkg/storage"
	"github.com/zfogg/sidechain/clientsync/pkg/upload"
)

var (
	uploadTarget  string
	uploadFolder  string
	uploadRetries int
	uploadSigned  bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload media with progress and retry",
	Long: `Stage a local copy of the file, upload it to the API or directly to
object storage, and report progress. Failed attempts are retried up to
--retries times; the staged copy is removed when the command exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		m := metrics.Default()

		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		registry := resources.NewRegistry(
			resources.WithThreshold(config.ResourceSettings().MaxTracked),
			resources.WithMetrics(m),
		)
		scope := registry.NewScope()
		defer scope.Close()

		staged, err := scope.CreateAndRegister(filepath.Base(args[0]), src)
		if err != nil {
			return err
		}
		info, err := os.Stat(staged)
		if err != nil {
			return err
		}

		var location string
		send, err := uploader(ctx, staged, &location)
		if err != nil {
			return err
		}

		settings := config.UploadSettings()
		bar := newProgressLine(cmd.OutOrStdout())
		completed := make(chan struct{})
		p := upload.New(upload.File{Name: filepath.Base(args[0]), Size: info.Size()}, upload.Options{
			Tick:          settings.Tick,
			CompleteDelay: settings.CompleteDelay,
			OnProgress:    bar.update,
			OnComplete:    func(upload.Task) { close(completed) },
		}, upload.WithMetrics(m))

		ok := p.Run(ctx, send)
		for retries := 0; !ok && retries < uploadRetries && ctx.Err() == nil; retries++ {
			ok = p.Retry(ctx, send)
		}
		if !ok {
			return errors.New(p.Snapshot().ErrorMessage)
		}

		select {
		case <-completed:
		case <-ctx.Done():
		}
		fmt.Fprintln(cmd.OutOrStdout(), location)
		return nil
	},
}

// uploader returns the upload function for the selected target. location is
// set to the resulting URL on success.
func uploader(ctx context.Context, path string, location *string) (upload.Func, error) {
	switch uploadTarget {
	case "api":
		settings := apiSettings()
		client := api.New(settings)
		if settings.Token != "" {
			client.SetAuthToken(settings.Token)
		}
		return func(ctx context.Context) (bool, error) {
			resp, err := client.UploadMedia(ctx, path)
			if err != nil {
				return false, err
			}
			*location = resp.URL
			return true, nil
		}, nil

	case "s3":
		store, err := storage.NewS3Store(ctx, config.StorageSettings())
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (bool, error) {
			result, err := store.UploadPath(ctx, uploadFolder, "", path)
			if err != nil {
				return false, err
			}
			*location = result.URL
			if uploadSigned {
				signed, err := store.SignedURL(ctx, result.Key, 0)
				if err != nil {
					return false, err
				}
				*location = signed
			}
			return true, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown upload target %q (want api or s3)", uploadTarget)
	}
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTarget, "target", "api", "Where to upload: api or s3")
	uploadCmd.Flags().StringVar(&uploadFolder, "folder", "audio", "Object key prefix for s3 uploads")
	uploadCmd.Flags().IntVar(&uploadRetries, "retries", 2, "Retry a failed upload this many times")
	uploadCmd.Flags().BoolVar(&uploadSigned, "signed", false, "Print a time-limited signed URL (s3 only)")
}
