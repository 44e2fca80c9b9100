// Package source fetches and normalizes posts from external content
// sources: channel-style listing pages and syndication feeds.
package source

import (
	"context"
	"fmt"
	"time"
)

// Post is a normalized content item produced by an adapter. It is
// immutable once produced; downstream stages reorder and filter
// collections but never mutate a Post.
type Post struct {
	SourceID     string    // adapter+item identity, used for de-duplication
	Title        string    // display title
	Body         string    // full item text
	Summary      string    // short description when the source provides one
	Permalink    string    // link to the original item
	PublishedAt  time.Time // best-effort publish date, defaults to today
	Views        int       // view count, 0 when unknown
	SourceLabel  string    // human-readable origin
	ImageURL     string
	VideoURL     string
	AnimationURL string
}

// HasMedia reports whether the post carries any media pointer.
func (p Post) HasMedia() bool {
	return p.ImageURL != "" || p.VideoURL != "" || p.AnimationURL != ""
}

// Source fetches posts from one external content source.
type Source interface {
	// Label returns the human-readable origin of the source.
	Label() string

	// Fetch returns up to limit normalized posts, newest first.
	// Failures are reported as *FetchError; the slice is nil on error.
	Fetch(ctx context.Context, limit int) ([]Post, error)
}

// FetchError reports a network, timeout, or parse failure inside an
// adapter. Callers log it and skip the source; it never aborts a merge.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
