// Package pipeline merges posts from configured sources, applies
// recency and keyword filters, and ranks the result.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/okulich/newsdeck/internal/source"
)

// ErrEmptyResult signals that aggregation produced zero posts. Callers
// surface it as a plain notice, not a failure.
var ErrEmptyResult = errors.New("aggregation produced no posts")

// Filter holds per-user keyword filters. Matching is case-insensitive
// substring over title, summary, and body.
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether a post survives the filter: any exclude term
// drops it; a non-empty include set requires at least one match.
func (f Filter) Match(p source.Post) bool {
	haystack := strings.ToLower(p.Title + " " + p.Summary + " " + p.Body)
	for _, term := range f.Exclude {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(haystack, term) {
			return false
		}
	}
	include := lo.Filter(f.Include, func(term string, _ int) bool {
		return strings.TrimSpace(term) != ""
	})
	if len(include) == 0 {
		return true
	}
	return lo.SomeBy(include, func(term string) bool {
		return strings.Contains(haystack, strings.ToLower(strings.TrimSpace(term)))
	})
}

// Order selects the ranking applied to surviving posts.
type Order int

const (
	// OrderTop ranks by view count, recency as the tie-break.
	OrderTop Order = iota
	// OrderLatest ranks by recency, view count as the tie-break.
	OrderLatest
)

// Pipeline aggregates posts for one request.
type Pipeline struct {
	log logrus.FieldLogger
	now func() time.Time
}

func New(log logrus.FieldLogger) *Pipeline {
	return &Pipeline{log: log, now: time.Now}
}

// Aggregate fetches from every source, keeps posts published inside the
// recency window, applies the keyword filter, and returns up to limit
// posts in the requested order. A failing source is logged and skipped;
// it never aborts the aggregation. The sort is stable, so equal-ranked
// posts keep their merge order.
func (pl *Pipeline) Aggregate(ctx context.Context, sources []source.Source, f Filter, windowDays, limit int, order Order) ([]source.Post, error) {
	threshold := dateOnly(pl.now().UTC()).AddDate(0, 0, -(windowDays - 1))

	var merged []source.Post
	for _, src := range sources {
		posts, err := src.Fetch(ctx, limit)
		if err != nil {
			pl.log.WithError(err).WithField("source", src.Label()).Warn("source skipped")
			continue
		}
		merged = append(merged, posts...)
	}

	kept := lo.Filter(merged, func(p source.Post, _ int) bool {
		return !p.PublishedAt.Before(threshold) && f.Match(p)
	})
	if len(kept) == 0 {
		return nil, ErrEmptyResult
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if order == OrderLatest {
			if !kept[i].PublishedAt.Equal(kept[j].PublishedAt) {
				return kept[i].PublishedAt.After(kept[j].PublishedAt)
			}
			return kept[i].Views > kept[j].Views
		}
		if kept[i].Views != kept[j].Views {
			return kept[i].Views > kept[j].Views
		}
		return kept[i].PublishedAt.After(kept[j].PublishedAt)
	})

	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
