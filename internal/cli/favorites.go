package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okulich/newsdeck/internal/store"
)

var (
	favoritesUser  int64
	favoritesLimit int
)

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List a user's saved posts, newest first",
	RunE:  favoritesAction,
}

func init() {
	favoritesCmd.Flags().Int64Var(&favoritesUser, "user", 0, "user id")
	favoritesCmd.Flags().IntVar(&favoritesLimit, "limit", 0, "max entries to show")
	_ = favoritesCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(favoritesCmd)
}

func favoritesAction(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	favs, err := a.db.Favorites(context.Background(), favoritesUser, favoritesLimit)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), formatFavorites(favs))
	return nil
}

func formatFavorites(favs []store.Favorite) string {
	if len(favs) == 0 {
		return "No saved posts.\n"
	}
	var b strings.Builder
	for i, f := range favs {
		fmt.Fprintf(&b, "%d. %s", i+1, f.Title)
		if f.Permalink != "" {
			fmt.Fprintf(&b, "\n   %s", f.Permalink)
		}
		fmt.Fprintf(&b, "\n   saved %s\n", f.SavedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}
