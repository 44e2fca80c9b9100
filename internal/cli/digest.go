package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okulich/newsdeck/internal/pipeline"
	"github.com/okulich/newsdeck/internal/schedule"
	"github.com/okulich/newsdeck/internal/source"
	"github.com/okulich/newsdeck/internal/transport"
)

var digestUser int64

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Deliver a user's digest immediately, ignoring the schedule",
	RunE:  digestAction,
}

func init() {
	digestCmd.Flags().Int64Var(&digestUser, "user", 0, "user id to deliver to")
	_ = digestCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(digestCmd)
}

func digestAction(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return a.scheduler().RunNow(context.Background(), digestUser)
}

// digestDispatcher aggregates a user's sources and delivers the ranked
// batch, one message per post.
type digestDispatcher struct {
	app *app
}

func (d *digestDispatcher) Dispatch(ctx context.Context, u schedule.User) error {
	srcs, err := d.app.sources(ctx, u.ID)
	if err != nil {
		return err
	}
	filter, err := d.app.filter(ctx, u.ID)
	if err != nil {
		return err
	}

	batch := u.BatchSize
	if batch <= 0 {
		batch = d.app.cfg.Listing.Limit
	}

	posts, err := d.app.pipe.Aggregate(ctx, srcs, filter, d.app.cfg.Listing.WindowDays, batch, pipeline.OrderTop)
	if errors.Is(err, pipeline.ErrEmptyResult) {
		return d.app.chain.Transport().Notify(ctx, u.ChatID, "Nothing new for today's digest.")
	}
	if err != nil {
		return err
	}

	delivered := d.app.chain.DeliverBatch(ctx, u.ChatID, posts, func(i int, p source.Post) (string, transport.Keyboard) {
		return formatDigestItem(i, len(posts), p), digestKeyboard(p)
	})
	d.app.log.WithField("user", u.ID).WithField("delivered", delivered).Info("digest sent")
	return nil
}

func formatDigestItem(i, total int, p source.Post) string {
	text := fmt.Sprintf("<b>%s</b>\n\n%s", p.Title, p.SourceLabel)
	if p.Views > 0 {
		text += fmt.Sprintf("   %d views", p.Views)
	}
	text += fmt.Sprintf("\n%d of %d", i+1, total)
	return text
}

func digestKeyboard(p source.Post) transport.Keyboard {
	if p.Permalink == "" {
		return nil
	}
	return transport.Keyboard{{{Label: "Open", URL: p.Permalink}}}
}
