package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okulich/newsdeck/internal/schedule"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "newsdeck.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestUpsertUserAndActiveUsers(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := st.UpsertUser(ctx, 2, 200); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	// Chat moves do not duplicate the user.
	if err := st.UpsertUser(ctx, 1, 150); err != nil {
		t.Fatalf("re-upsert user: %v", err)
	}

	users, err := st.ActiveUsers(ctx)
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].ChatID != 150 {
		t.Fatalf("chat id not refreshed: %d", users[0].ChatID)
	}
	if users[0].BatchSize != 10 {
		t.Fatalf("expected default batch size, got %d", users[0].BatchSize)
	}
}

func TestBatchSize(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	size, err := st.BatchSize(ctx, 99)
	if err != nil {
		t.Fatalf("batch size for unknown user: %v", err)
	}
	if size != 10 {
		t.Fatalf("expected default 10, got %d", size)
	}

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := st.SetBatchSize(ctx, 1, 5); err != nil {
		t.Fatalf("set batch size: %v", err)
	}
	size, err = st.BatchSize(ctx, 1)
	if err != nil {
		t.Fatalf("batch size: %v", err)
	}
	if size != 5 {
		t.Fatalf("expected 5, got %d", size)
	}

	if err := st.SetBatchSize(ctx, 1, 0); err == nil {
		t.Fatal("expected error for non-positive batch size")
	}
	if err := st.SetBatchSize(ctx, 99, 5); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestSourcesRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := st.AddSource(ctx, 1, SourceRef{Kind: SourceChannel, URL: "https://t.me/golang"}); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if err := st.AddSource(ctx, 1, SourceRef{Kind: SourceFeed, URL: "https://habr.com/rss"}); err != nil {
		t.Fatalf("add feed: %v", err)
	}
	// Duplicate URL is ignored.
	if err := st.AddSource(ctx, 1, SourceRef{Kind: SourceChannel, URL: "https://t.me/golang"}); err != nil {
		t.Fatalf("re-add channel: %v", err)
	}

	refs, err := st.Sources(ctx, 1)
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(refs))
	}
	if refs[0].Kind != SourceChannel || refs[1].Kind != SourceFeed {
		t.Fatalf("unexpected kinds: %v", refs)
	}

	if err := st.RemoveSource(ctx, 1, "https://t.me/golang"); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	refs, err = st.Sources(ctx, 1)
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(refs) != 1 || refs[0].Kind != SourceFeed {
		t.Fatalf("unexpected sources after remove: %v", refs)
	}
}

func TestAddSourceRejectsBadKind(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := st.AddSource(ctx, 1, SourceRef{Kind: "reddit", URL: "https://example.com"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if err := st.AddSource(ctx, 1, SourceRef{Kind: SourceFeed, URL: "  "}); err == nil {
		t.Fatal("expected error for blank url")
	}
}

func TestFilterRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	terms, err := st.Filter(ctx, 1)
	if err != nil {
		t.Fatalf("filter for user without one: %v", err)
	}
	if len(terms.Include) != 0 || len(terms.Exclude) != 0 {
		t.Fatalf("expected empty terms, got %v", terms)
	}

	want := FilterTerms{Include: []string{"go", "python"}, Exclude: []string{"crypto"}}
	if err := st.SetFilter(ctx, 1, want); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	terms, err = st.Filter(ctx, 1)
	if err != nil {
		t.Fatalf("read filter: %v", err)
	}
	if len(terms.Include) != 2 || terms.Include[1] != "python" {
		t.Fatalf("unexpected include terms: %v", terms.Include)
	}
	if len(terms.Exclude) != 1 || terms.Exclude[0] != "crypto" {
		t.Fatalf("unexpected exclude terms: %v", terms.Exclude)
	}

	// Replacing overwrites, not merges.
	if err := st.SetFilter(ctx, 1, FilterTerms{Exclude: []string{"ads"}}); err != nil {
		t.Fatalf("replace filter: %v", err)
	}
	terms, err = st.Filter(ctx, 1)
	if err != nil {
		t.Fatalf("read replaced filter: %v", err)
	}
	if len(terms.Include) != 0 || len(terms.Exclude) != 1 {
		t.Fatalf("filter not replaced: %v", terms)
	}
}

func TestDigestScheduleRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	_, ok, err := st.DigestSchedule(ctx, 1)
	if err != nil {
		t.Fatalf("schedule for user without one: %v", err)
	}
	if ok {
		t.Fatal("expected no schedule")
	}

	in := schedule.DigestSchedule{
		TimeOfDay: "09:00",
		Weekdays:  []time.Weekday{time.Monday, time.Friday},
		Enabled:   true,
	}
	if err := st.SetDigestSchedule(ctx, 1, in); err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	got, ok, err := st.DigestSchedule(ctx, 1)
	if err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	if !ok {
		t.Fatal("expected a schedule")
	}
	if got.TimeOfDay != "09:00" || !got.Enabled {
		t.Fatalf("unexpected schedule: %+v", got)
	}
	if len(got.Weekdays) != 2 || got.Weekdays[0] != time.Monday || got.Weekdays[1] != time.Friday {
		t.Fatalf("unexpected weekdays: %v", got.Weekdays)
	}
	if !got.LastFiredAt.IsZero() {
		t.Fatalf("fresh schedule should have no fire time: %v", got.LastFiredAt)
	}

	firedAt := time.Date(2025, 3, 10, 9, 2, 0, 0, time.UTC)
	if err := st.MarkDigestFired(ctx, 1, firedAt); err != nil {
		t.Fatalf("mark fired: %v", err)
	}
	got, _, err = st.DigestSchedule(ctx, 1)
	if err != nil {
		t.Fatalf("re-read schedule: %v", err)
	}
	if !got.LastFiredAt.Equal(firedAt) {
		t.Fatalf("unexpected fire time: %v", got.LastFiredAt)
	}

	// Changing the slot keeps the recorded fire time.
	in.TimeOfDay = "18:30"
	if err := st.SetDigestSchedule(ctx, 1, in); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	got, _, err = st.DigestSchedule(ctx, 1)
	if err != nil {
		t.Fatalf("read updated schedule: %v", err)
	}
	if got.TimeOfDay != "18:30" || !got.LastFiredAt.Equal(firedAt) {
		t.Fatalf("update lost state: %+v", got)
	}
}

func TestSetDigestScheduleRejectsInvalid(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	err := st.SetDigestSchedule(ctx, 1, schedule.DigestSchedule{TimeOfDay: "25:00"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestMarkDigestFiredWithoutSchedule(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := st.MarkDigestFired(ctx, 1, time.Now()); err == nil {
		t.Fatal("expected error when no schedule exists")
	}
}

func TestFavorites(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"feed:a", "feed:b", "feed:c"} {
		fav := Favorite{
			SourceID:  id,
			Title:     "Post " + id,
			Permalink: "https://example.com/" + id,
			SavedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.SaveFavorite(ctx, 1, fav); err != nil {
			t.Fatalf("save favorite: %v", err)
		}
	}

	// Re-saving refreshes, not duplicates.
	if err := st.SaveFavorite(ctx, 1, Favorite{
		SourceID: "feed:a",
		Title:    "Post feed:a updated",
		SavedAt:  base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("re-save favorite: %v", err)
	}

	favs, err := st.Favorites(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if len(favs) != 3 {
		t.Fatalf("expected 3 favorites, got %d", len(favs))
	}
	if favs[0].SourceID != "feed:a" || favs[0].Title != "Post feed:a updated" {
		t.Fatalf("re-saved favorite not newest: %+v", favs[0])
	}

	favs, err = st.Favorites(ctx, 1, 2)
	if err != nil {
		t.Fatalf("limited favorites: %v", err)
	}
	if len(favs) != 2 {
		t.Fatalf("limit not applied: %d", len(favs))
	}
}

func TestCascadeOnSourceTables(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, 1, 100); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := st.AddSource(ctx, 1, SourceRef{Kind: SourceFeed, URL: "https://habr.com/rss"}); err != nil {
		t.Fatalf("add source: %v", err)
	}

	if _, err := st.db.ExecContext(ctx, "DELETE FROM users WHERE user_id = 1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	refs, err := st.Sources(ctx, 1)
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("sources not cascade-deleted: %v", refs)
	}
}
