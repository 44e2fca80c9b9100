package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	channelFetchTimeout = 10 * time.Second
	channelMaxRetries   = 2
	channelUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	channelMinTextLen   = 10
	channelTitleRunes   = 100

	defaultChannelBase = "https://t.me"
)

var (
	bgImageRe    = regexp.MustCompile(`background-image:\s*url\((?:'|")?([^'")]+)(?:'|")?\)`)
	dottedDateRe = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	nonDigitRe   = regexp.MustCompile(`[^\d]`)
)

// ChannelSource scrapes the public rendered listing page of a
// channel-style source and normalizes its entries into posts.
type ChannelSource struct {
	name    string
	baseURL string
	client  *http.Client
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewChannel creates a channel adapter from a channel URL such as
// "https://t.me/tproger"; the channel name is the last path segment.
func NewChannel(channelURL string, log logrus.FieldLogger) (*ChannelSource, error) {
	name := strings.TrimSuffix(channelURL, "/")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		return nil, fmt.Errorf("channel: cannot derive channel name from %q", channelURL)
	}
	return &ChannelSource{
		name:    name,
		baseURL: defaultChannelBase,
		client:  &http.Client{Timeout: channelFetchTimeout},
		log:     log,
		now:     time.Now,
	}, nil
}

// Label returns the channel name.
func (c *ChannelSource) Label() string {
	return c.name
}

// Fetch retrieves the channel's listing page and extracts up to limit
// posts, newest first. It over-fetches about twice the limit before
// trimming to tolerate entries discarded during extraction.
func (c *ChannelSource) Fetch(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		return nil, nil
	}

	listingURL := fmt.Sprintf("%s/s/%s", c.baseURL, c.name)

	doc, err := c.fetchListing(ctx, listingURL)
	if err != nil {
		return nil, &FetchError{Source: c.name, Err: err}
	}

	entries := doc.Find(".tgme_widget_message")

	var posts []Post
	entries.EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= limit*2 {
			return false
		}
		if p, ok := c.extractPost(sel); ok {
			posts = append(posts, p)
		}
		return true
	})

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].PublishedAt.After(posts[j].PublishedAt)
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *ChannelSource) fetchListing(ctx context.Context, listingURL string) (*goquery.Document, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	return backoff.RetryWithData(func() (*goquery.Document, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", channelUserAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("HTTP %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("parse listing: %w", err))
		}
		return doc, nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, channelMaxRetries), ctx))
}

// extractPost pulls one normalized post out of a message block. Entries
// without meaningful text or a permalink are discarded.
func (c *ChannelSource) extractPost(sel *goquery.Selection) (Post, bool) {
	text := strings.TrimSpace(sel.Find(".tgme_widget_message_text").First().Text())
	if len(text) < channelMinTextLen {
		return Post{}, false
	}

	permalink := c.extractPermalink(sel)
	if permalink == "" {
		return Post{}, false
	}

	title := text
	if utf8.RuneCountInString(title) > channelTitleRunes {
		title = firstNRunes(title, channelTitleRunes) + "..."
	}

	p := Post{
		SourceID:    fmt.Sprintf("channel:%s:%s", c.name, permalink),
		Title:       title,
		Body:        text,
		Permalink:   permalink,
		PublishedAt: c.extractDate(sel),
		Views:       parseViews(sel.Find(".tgme_widget_message_views").First().Text()),
		SourceLabel: c.name,
	}
	c.extractMedia(sel, &p)
	return p, true
}

func (c *ChannelSource) extractPermalink(sel *goquery.Selection) string {
	if href, ok := sel.Find(".tgme_widget_message_date").First().Attr("href"); ok && href != "" {
		return href
	}
	// Fall back to any anchor whose last path segment is a message number.
	var found string
	sel.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok || !strings.Contains(href, "/") {
			return true
		}
		tail := href[strings.LastIndexByte(href, '/')+1:]
		if tail != "" && nonDigitRe.ReplaceAllString(tail, "") == tail {
			found = href
			return false
		}
		return true
	})
	return found
}

// extractDate resolves the publish date: an explicit ISO datetime
// attribute wins, then relative terms, then D.M.Y text, then today.
func (c *ChannelSource) extractDate(sel *goquery.Selection) time.Time {
	if iso, ok := sel.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, iso); err == nil {
			return dateOnly(t.UTC())
		}
	}
	return c.parseDateText(sel.Find(".tgme_widget_message_date").First().Text())
}

func (c *ChannelSource) parseDateText(text string) time.Time {
	today := dateOnly(c.now().UTC())
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return today
	case strings.Contains(lower, "today"), strings.Contains(lower, "сегодня"):
		return today
	case strings.Contains(lower, "yesterday"), strings.Contains(lower, "вчера"):
		return today.AddDate(0, 0, -1)
	}
	if m := dottedDateRe.FindStringSubmatch(lower); m != nil {
		t, err := time.Parse("2.1.2006", fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3]))
		if err == nil {
			return t
		}
	}
	return today
}

func (c *ChannelSource) extractMedia(sel *goquery.Selection, p *Post) {
	if style, ok := sel.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
		if m := bgImageRe.FindStringSubmatch(style); m != nil {
			p.ImageURL = m[1]
		}
	}
	if p.ImageURL == "" {
		if src, ok := sel.Find(".tgme_widget_message_photo img, img.tgme_widget_message_photo").First().Attr("src"); ok {
			p.ImageURL = src
		}
	}

	if src, ok := sel.Find("video source").First().Attr("src"); ok {
		p.VideoURL = src
	}
	if p.VideoURL == "" {
		if src, ok := sel.Find("video").First().Attr("src"); ok {
			p.VideoURL = src
		}
	}
	if p.VideoURL == "" {
		if href, ok := sel.Find(`a[href$=".mp4"]`).First().Attr("href"); ok {
			p.VideoURL = href
		}
	}
	if p.VideoURL == "" {
		if v, ok := sel.Find("[data-video]").First().Attr("data-video"); ok {
			p.VideoURL = v
		}
	}

	if href, ok := sel.Find(`a[href$=".gif"]`).First().Attr("href"); ok {
		p.AnimationURL = href
	}
	if p.AnimationURL == "" {
		if src, ok := sel.Find(`img[src$=".gif"]`).First().Attr("src"); ok {
			p.AnimationURL = src
		}
	}
}

// parseViews converts an abbreviated view-count string to an integer by
// stripping every non-digit character; "1.2K" becomes 12.
func parseViews(text string) int {
	digits := nonDigitRe.ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	return n
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

