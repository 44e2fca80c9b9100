package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/okulich/newsdeck/internal/config"
	"github.com/okulich/newsdeck/internal/deliver"
	"github.com/okulich/newsdeck/internal/pipeline"
	"github.com/okulich/newsdeck/internal/schedule"
	"github.com/okulich/newsdeck/internal/source"
	"github.com/okulich/newsdeck/internal/store"
	"github.com/okulich/newsdeck/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the digest scheduler until interrupted",
	RunE:  serveAction,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app bundles the wired components shared by the serve and digest
// commands.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	db    *store.Store
	pipe  *pipeline.Pipeline
	chain *deliver.Chain
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Log.Level)
	if cfg.Transport.Token == "" {
		log.Info("no transport token configured, deliveries go to the log")
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tr := transport.NewLogTransport(log)
	return &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		pipe:  pipeline.New(log),
		chain: deliver.NewChain(tr, log),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

func (a *app) scheduler() *schedule.Scheduler {
	dispatcher := &digestDispatcher{app: a}
	return schedule.NewScheduler(a.db, dispatcher, a.log, a.cfg.Digest.Tick.Duration, a.cfg.Digest.Tolerance.Duration)
}

// sources builds adapters for a user's subscriptions, falling back to
// the configured defaults when the user has none.
func (a *app) sources(ctx context.Context, userID int64) ([]source.Source, error) {
	refs, err := a.db.Sources(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		for _, url := range a.cfg.Sources.Channels {
			refs = append(refs, store.SourceRef{Kind: store.SourceChannel, URL: url})
		}
		for _, url := range a.cfg.Sources.Feeds {
			refs = append(refs, store.SourceRef{Kind: store.SourceFeed, URL: url})
		}
	}

	var srcs []source.Source
	for _, ref := range refs {
		var (
			src source.Source
			err error
		)
		switch ref.Kind {
		case store.SourceChannel:
			src, err = source.NewChannel(ref.URL, a.log)
		case store.SourceFeed:
			src, err = source.NewFeed(ref.URL, a.log)
		default:
			err = fmt.Errorf("unknown source kind %q", ref.Kind)
		}
		if err != nil {
			a.log.WithError(err).WithField("url", ref.URL).Warn("source skipped")
			continue
		}
		srcs = append(srcs, src)
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("no usable sources for user %d", userID)
	}
	return srcs, nil
}

// filter loads a user's stored keyword terms.
func (a *app) filter(ctx context.Context, userID int64) (pipeline.Filter, error) {
	terms, err := a.db.Filter(ctx, userID)
	if err != nil {
		return pipeline.Filter{}, err
	}
	return pipeline.Filter{Include: terms.Include, Exclude: terms.Exclude}, nil
}

func serveAction(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.WithField("tick", a.cfg.Digest.Tick.Duration.String()).Info("scheduler started")
	if err := a.scheduler().Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	a.log.Info("scheduler stopped")
	return nil
}
