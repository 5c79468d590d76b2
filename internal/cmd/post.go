package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/clientsync/pkg/api"
	"github.com/zfogg/sidechain/clientsync/pkg/config"
	"github.com/zfogg/sidechain/clientsync/pkg/ledger"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/notify"
	"github.com/zfogg/sidechain/clientsync/pkg/optimistic"
	"github.com/zfogg/sidechain/clientsync/pkg/upload"
)

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Toggle the like on a post optimistically",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, engine := newEngine(cmd)
		postID := args[0]

		var post *api.Post
		_, err := upload.LoadWithRetry(cmd.Context(), upload.DefaultRetryPolicy(), func(ctx context.Context) error {
			var err error
			post, err = client.GetPost(ctx, postID)
			return err
		})
		if err != nil {
			return err
		}

		toggler := optimistic.NewLikeToggler(engine, client)
		toggler.Seed(postID, post.IsLiked, post.LikeCount)
		err = toggler.Toggle(cmd.Context(), postID)

		state := toggler.State(postID)
		fmt.Fprintf(cmd.OutOrStdout(), "liked=%t likes=%d\n", state.Liked, state.Count)
		return err
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete a post optimistically",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, engine := newEngine(cmd)
		postID := args[0]

		return engine.PerformDelete(cmd.Context(), postID, func(ctx context.Context) error {
			return client.DeletePost(ctx, postID)
		}, "Post deleted", "Failed to delete post")
	},
}

// newEngine builds the API client and an engine reporting to the terminal
func newEngine(cmd *cobra.Command) (*api.Client, *optimistic.Engine) {
	settings := apiSettings()
	client := api.New(settings)
	if settings.Token != "" {
		client.SetAuthToken(settings.Token)
	}

	m := metrics.Default()
	l := ledger.New(ledger.WithMetrics(m))
	n := notify.Multi(notify.TerminalNotifier{Out: cmd.OutOrStdout()}, notify.LogNotifier{})
	engine := optimistic.NewEngine(l, n,
		optimistic.WithMetrics(m),
		optimistic.WithDisplayWindow(config.LedgerSettings().Retain),
	)
	return client, engine
}
