package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okulich/newsdeck/internal/session"
	"github.com/okulich/newsdeck/internal/source"
	"github.com/okulich/newsdeck/internal/store"
)

var (
	listingUser  int64
	listingKind  string
	listingQuery string
)

var listingCmd = &cobra.Command{
	Use:   "listing",
	Short: "Start a listing for a user and render the first post",
	RunE:  listingAction,
}

func init() {
	listingCmd.Flags().Int64Var(&listingUser, "user", 0, "user id to render for")
	listingCmd.Flags().StringVar(&listingKind, "kind", "top", "listing kind: top, latest, search")
	listingCmd.Flags().StringVar(&listingQuery, "query", "", "search query (kind=search)")
	_ = listingCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(listingCmd)
}

func parseListingKind(value string) (session.ListingKind, error) {
	switch session.ListingKind(value) {
	case session.KindTop, session.KindLatest, session.KindSearch:
		return session.ListingKind(value), nil
	default:
		return "", fmt.Errorf("unknown listing kind %q (want top, latest or search)", value)
	}
}

func listingAction(_ *cobra.Command, _ []string) error {
	kind, err := parseListingKind(listingKind)
	if err != nil {
		return err
	}
	if kind == session.KindSearch && listingQuery == "" {
		return fmt.Errorf("kind=search requires --query")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	srcs, err := a.sources(ctx, listingUser)
	if err != nil {
		return err
	}
	filter, err := a.filter(ctx, listingUser)
	if err != nil {
		return err
	}
	batch, err := a.db.BatchSize(ctx, listingUser)
	if err != nil {
		return err
	}

	save := func(ctx context.Context, userID int64, p source.Post) error {
		return a.db.SaveFavorite(ctx, userID, store.Favorite{
			SourceID:  p.SourceID,
			Title:     p.Title,
			Permalink: p.Permalink,
		})
	}

	nav := session.NewNavigator(
		session.NewMemoryStore(),
		a.pipe,
		a.chain,
		source.NewArticleFetcher(a.cfg.Listing.ArticleMaxChars),
		session.NewGate(),
		save,
		a.log,
	)
	return nav.StartListing(ctx, listingUser, listingUser, session.ListingConfig{
		Kind:       kind,
		Query:      listingQuery,
		Sources:    srcs,
		Filter:     filter,
		WindowDays: a.cfg.Listing.WindowDays,
		Limit:      batch,
	})
}
