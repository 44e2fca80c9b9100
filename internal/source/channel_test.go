package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)
}

func messageBlock(text, href, datetime, views, extra string) string {
	return fmt.Sprintf(`
<div class="tgme_widget_message">
  <div class="tgme_widget_message_text">%s</div>
  %s
  <span class="tgme_widget_message_views">%s</span>
  <a class="tgme_widget_message_date" href="%s"><time datetime="%s"></time></a>
</div>`, text, extra, views, href, datetime)
}

func newTestChannel(t *testing.T, html string) (*ChannelSource, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "<html><body>"+html+"</body></html>")
	}))
	t.Cleanup(srv.Close)

	ch, err := NewChannel("https://t.me/technews", logrus.New())
	require.NoError(t, err)
	ch.baseURL = srv.URL
	ch.client = srv.Client()
	ch.now = fixedNow
	return ch, srv
}

func TestChannelFetch_ExtractsPost(t *testing.T) {
	html := messageBlock(
		"A long enough post text about releases",
		"https://t.me/technews/101",
		"2025-03-09T11:24:00+00:00",
		"1.2K",
		`<i class="tgme_widget_message_photo_wrap" style="background-image:url('https://cdn.example.com/p.jpg')"></i>`,
	)
	ch, _ := newTestChannel(t, html)

	posts, err := ch.Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	p := posts[0]
	assert.Equal(t, "A long enough post text about releases", p.Body)
	assert.Equal(t, "https://t.me/technews/101", p.Permalink)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), p.PublishedAt)
	assert.Equal(t, 12, p.Views, "non-digit characters are stripped")
	assert.Equal(t, "https://cdn.example.com/p.jpg", p.ImageURL)
	assert.Equal(t, "technews", p.SourceLabel)
	assert.True(t, p.HasMedia())
}

func TestChannelFetch_DiscardsEntriesWithoutTextOrPermalink(t *testing.T) {
	html := messageBlock("short", "https://t.me/technews/1", "2025-03-09T10:00:00+00:00", "5", "") +
		`<div class="tgme_widget_message"><div class="tgme_widget_message_text">no permalink in this entry at all</div></div>` +
		messageBlock("this one is perfectly fine to keep", "https://t.me/technews/3", "2025-03-09T10:00:00+00:00", "7", "")
	ch, _ := newTestChannel(t, html)

	posts, err := ch.Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "https://t.me/technews/3", posts[0].Permalink)
}

func TestChannelFetch_TrimsToLimitNewestFirst(t *testing.T) {
	var html string
	for i := 0; i < 6; i++ {
		html += messageBlock(
			fmt.Sprintf("message number %d with enough text", i),
			fmt.Sprintf("https://t.me/technews/%d", i),
			fmt.Sprintf("2025-03-0%dT10:00:00+00:00", i+1),
			"10",
			"",
		)
	}
	ch, _ := newTestChannel(t, html)

	posts, err := ch.Fetch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for i := 1; i < len(posts); i++ {
		assert.False(t, posts[i].PublishedAt.After(posts[i-1].PublishedAt))
	}
}

func TestChannelFetch_VideoAndAnimation(t *testing.T) {
	html := messageBlock(
		"a clip worth watching today honestly",
		"https://t.me/technews/55",
		"2025-03-10T09:00:00+00:00",
		"300",
		`<video><source src="https://cdn.example.com/v.mp4"></video>
		 <a href="https://cdn.example.com/fun.gif">gif</a>`,
	)
	ch, _ := newTestChannel(t, html)

	posts, err := ch.Fetch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "https://cdn.example.com/v.mp4", posts[0].VideoURL)
	assert.Equal(t, "https://cdn.example.com/fun.gif", posts[0].AnimationURL)
}

func TestChannelFetch_LongCyrillicTitleKeepsValidUTF8(t *testing.T) {
	text := "Новость дня " + strings.Repeat("я", 120)
	html := messageBlock(text, "https://t.me/technews/9", "2025-03-10T09:00:00+00:00", "40", "")
	ch, _ := newTestChannel(t, html)

	posts, err := ch.Fetch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	title := posts[0].Title
	assert.True(t, utf8.ValidString(title), "title must not be cut mid-rune: %q", title)
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.Equal(t, channelTitleRunes+3, utf8.RuneCountInString(title))
	assert.Equal(t, text, posts[0].Body, "body keeps the full text")
}

func TestChannelFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ch, err := NewChannel("https://t.me/gone", logrus.New())
	require.NoError(t, err)
	ch.baseURL = srv.URL
	ch.client = srv.Client()

	_, err = ch.Fetch(context.Background(), 5)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "gone", fe.Source)
}

func TestParseDateText(t *testing.T) {
	ch, err := NewChannel("https://t.me/x", logrus.New())
	require.NoError(t, err)
	ch.now = fixedNow

	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"today at 11:00", today},
		{"yesterday", today.AddDate(0, 0, -1)},
		{"5.3.2025", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"12.11.2024", time.Date(2024, 11, 12, 0, 0, 0, 0, time.UTC)},
		{"gibberish", today},
		{"", today},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ch.parseDateText(tt.in), "input %q", tt.in)
	}
}

func TestParseViews(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1.2K", 12},
		{"305", 305},
		{"12 345", 12345},
		{"", 0},
		{"n/a", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseViews(tt.in), "input %q", tt.in)
	}
}
