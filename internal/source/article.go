package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	articleFetchTimeout = 10 * time.Second
	articleMaxChars     = 3000
	articleTruncMarker  = "...\n\n(continued on source)"
)

// genericSelectors is the prioritized chain of structural selectors
// tried when no site-specific chain matches the URL's domain.
var genericSelectors = []string{
	"article",
	".article",
	".post",
	".content",
	".entry-content",
	".post-content",
	"main",
	".main-content",
}

// domainSelectors maps a host substring to the selector chain that works
// best for that site's article markup.
var domainSelectors = map[string][]string{
	"habr.com": {".article-formatted-body", ".post__text", ".tm-article-body"},
}

// Article is the result of a successful full-article fetch.
type Article struct {
	Title   string
	Content string
}

// ArticleFetcher retrieves the full text of an article behind a post's
// permalink, for on-demand summary and full-view enrichment.
type ArticleFetcher struct {
	client   *http.Client
	maxChars int
}

// NewArticleFetcher creates a fetcher; maxChars <= 0 uses the default
// transport-safe cap.
func NewArticleFetcher(maxChars int) *ArticleFetcher {
	if maxChars <= 0 {
		maxChars = articleMaxChars
	}
	return &ArticleFetcher{
		client:   &http.Client{Timeout: articleFetchTimeout},
		maxChars: maxChars,
	}
}

// Fetch downloads the page and extracts its main content. The selector
// chain is picked by URL domain; script, style and embedded-widget nodes
// are stripped, and the text is truncated to a transport-safe size.
func (a *ArticleFetcher) Fetch(ctx context.Context, articleURL string) (Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return Article{}, fmt.Errorf("article: %w", err)
	}
	req.Header.Set("User-Agent", channelUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("article: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Article{}, fmt.Errorf("article: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Article{}, fmt.Errorf("article: parse: %w", err)
	}

	content := a.findContent(doc, articleURL)
	if content == nil {
		content = doc.Find("body").First()
	}
	if content.Length() == 0 {
		return Article{}, fmt.Errorf("article: no content found at %s", articleURL)
	}

	content.Find("script, style, aside, iframe, noscript").Remove()

	text := whitespaceRe.ReplaceAllString(content.Text(), " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return Article{}, fmt.Errorf("article: empty content at %s", articleURL)
	}
	if truncated := firstNRunes(text, a.maxChars); truncated != text {
		text = truncated + articleTruncMarker
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return Article{Title: title, Content: text}, nil
}

func firstNRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func (a *ArticleFetcher) findContent(doc *goquery.Document, articleURL string) *goquery.Selection {
	chains := [][]string{genericSelectors}
	if u, err := url.Parse(articleURL); err == nil {
		for domain, sels := range domainSelectors {
			if strings.Contains(u.Host, domain) {
				chains = [][]string{sels, genericSelectors}
				break
			}
		}
	}
	for _, chain := range chains {
		for _, sel := range chain {
			if s := doc.Find(sel).First(); s.Length() > 0 {
				return s
			}
		}
	}
	return nil
}
