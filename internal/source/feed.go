package source

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
)

const feedFetchTimeout = 30 * time.Second

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	sizeTokenRe  = regexp.MustCompile(`-\d{2,4}x\d{2,4}(\.\w+)$`)
)

// FeedSource fetches posts from a syndication (RSS/Atom) feed. When the
// feed itself yields nothing it falls back to scraping the site's
// listing page.
type FeedSource struct {
	feedURL string
	client  *http.Client
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewFeed creates a feed adapter for one feed URL.
func NewFeed(feedURL string, log logrus.FieldLogger) (*FeedSource, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, fmt.Errorf("feed: URL is required")
	}
	return &FeedSource{
		feedURL: feedURL,
		client:  &http.Client{Timeout: feedFetchTimeout},
		log:     log,
		now:     time.Now,
	}, nil
}

// Label returns the feed host.
func (f *FeedSource) Label() string {
	if u, err := url.Parse(f.feedURL); err == nil && u.Host != "" {
		return u.Host
	}
	return f.feedURL
}

// Fetch parses the feed and normalizes up to limit items.
func (f *FeedSource) Fetch(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		return nil, nil
	}

	fp := gofeed.NewParser()
	fp.Client = f.client
	feed, err := fp.ParseURLWithContext(f.feedURL, ctx)
	if err != nil {
		return nil, &FetchError{Source: f.feedURL, Err: err}
	}

	if len(feed.Items) == 0 {
		return f.scrapeListing(ctx, feed.Link, limit)
	}

	label := feed.Title
	if label == "" {
		label = f.Label()
	}

	posts := make([]Post, 0, limit)
	for _, item := range feed.Items {
		if len(posts) == limit {
			break
		}
		if item.Link == "" && item.Title == "" {
			continue
		}
		summary := collapseText(item.Description)
		body := collapseText(item.Content)
		if body == "" {
			body = summary
		}
		posts = append(posts, Post{
			SourceID:    "feed:" + itemID(item),
			Title:       item.Title,
			Body:        body,
			Summary:     summary,
			Permalink:   item.Link,
			PublishedAt: f.itemDate(item),
			SourceLabel: label,
			ImageURL:    f.itemThumbnail(item),
		})
	}
	return posts, nil
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func (f *FeedSource) itemDate(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return dateOnly(item.PublishedParsed.UTC())
	}
	if item.UpdatedParsed != nil {
		return dateOnly(item.UpdatedParsed.UTC())
	}
	return dateOnly(f.now().UTC())
}

// itemThumbnail resolves a thumbnail in priority order: structured item
// image, media extension fields, then an inline image in the summary
// markup. The result is normalized and size-upgraded.
func (f *FeedSource) itemThumbnail(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return f.normalizeThumb(item.Image.URL)
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"thumbnail", "content"} {
			for _, ext := range media[key] {
				if u := ext.Attrs["url"]; u != "" {
					return f.normalizeThumb(u)
				}
			}
		}
	}
	if item.Description != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.Description))
		if err == nil {
			if src, ok := doc.Find("img").First().Attr("src"); ok && src != "" {
				return f.normalizeThumb(src)
			}
		}
	}
	return ""
}

// normalizeThumb makes a thumbnail URL absolute (protocol-relative URLs
// become https, relative paths resolve against the feed URL) and
// upgrades recognizable low-resolution size tokens.
func (f *FeedSource) normalizeThumb(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		base, err := url.Parse(f.feedURL)
		if err != nil {
			return raw
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		raw = base.ResolveReference(ref).String()
	}
	// "photo-150x150.jpg" is a downscaled variant of "photo.jpg".
	return sizeTokenRe.ReplaceAllString(raw, "$1")
}

// scrapeListing is the fallback used when the feed is empty: extract
// entries straight from the site's listing page.
func (f *FeedSource) scrapeListing(ctx context.Context, siteURL string, limit int) ([]Post, error) {
	if siteURL == "" {
		if u, err := url.Parse(f.feedURL); err == nil {
			siteURL = u.Scheme + "://" + u.Host
		}
	}
	if siteURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL, nil)
	if err != nil {
		return nil, &FetchError{Source: f.feedURL, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: f.feedURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: f.feedURL, Err: fmt.Errorf("listing fallback: HTTP %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: f.feedURL, Err: fmt.Errorf("listing fallback: %w", err)}
	}

	f.log.WithField("site", siteURL).Debug("feed empty, scraping listing page")

	label := f.Label()
	today := dateOnly(f.now().UTC())

	var posts []Post
	doc.Find("article, .article, .post, .tm-articles-list__item").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(posts) == limit {
			return false
		}
		titleLink := sel.Find("h1 a, h2 a, h3 a, .tm-title a").First()
		title := strings.TrimSpace(titleLink.Text())
		link, _ := titleLink.Attr("href")
		if title == "" || link == "" {
			return true
		}
		link = f.normalizeThumb(link) // same absolute-URL rules apply to entry links

		p := Post{
			SourceID:    "feed:" + link,
			Title:       title,
			Summary:     collapseText(sel.Find(".summary, .article__descr, .tm-article-snippet, p").First().Text()),
			Permalink:   link,
			PublishedAt: today,
			SourceLabel: label,
		}
		if style, ok := sel.Find("[style*='background-image']").First().Attr("style"); ok {
			if m := bgImageRe.FindStringSubmatch(style); m != nil {
				p.ImageURL = f.normalizeThumb(m[1])
			}
		}
		p.Body = p.Summary
		posts = append(posts, p)
		return true
	})

	return posts, nil
}

// collapseText strips markup and collapses whitespace.
func collapseText(s string) string {
	if s == "" {
		return ""
	}
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
