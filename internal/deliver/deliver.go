// Package deliver renders posts to the transport, negotiating the media
// type with automatic fallback: video, then animation, then photo, then
// plain text. A post is never silently dropped.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/okulich/newsdeck/internal/source"
	"github.com/okulich/newsdeck/internal/transport"
)

const (
	downloadTimeout = 15 * time.Second
	maxBlobBytes    = 20 << 20
)

var mediaFilenames = map[transport.MediaKind]string{
	transport.MediaPhoto:     "image.jpg",
	transport.MediaVideo:     "video.mp4",
	transport.MediaAnimation: "animation.gif",
}

// Chain delivers one post (or a batch) through the transport with media
// fallback.
type Chain struct {
	tr     transport.Transport
	client *http.Client
	log    logrus.FieldLogger
}

func NewChain(tr transport.Transport, log logrus.FieldLogger) *Chain {
	return &Chain{
		tr:     tr,
		client: &http.Client{Timeout: downloadTimeout},
		log:    log,
	}
}

// Transport returns the underlying transport, for renders that bypass
// media negotiation (transient notices).
func (c *Chain) Transport() transport.Transport {
	return c.tr
}

// Deliver renders the post. Each media kind present on the post is
// attempted as a direct URL first, then re-attempted as an uploaded
// blob after downloading the bytes; on a second failure the next kind
// is tried. Text-only is the final fallback. When edit is non-nil the
// render replaces that message, falling back to delete-then-send if the
// transport rejects in-place media edits.
func (c *Chain) Deliver(ctx context.Context, chatID int64, post source.Post, text string, kb transport.Keyboard, edit *transport.MessageRef) (transport.MessageRef, error) {
	candidates := []struct {
		kind transport.MediaKind
		url  string
	}{
		{transport.MediaVideo, post.VideoURL},
		{transport.MediaAnimation, post.AnimationURL},
		{transport.MediaPhoto, post.ImageURL},
	}

	// attempt sends or edits; when the transport rejects an in-place
	// media edit the stale message is deleted once and every later
	// attempt becomes a plain send.
	attempt := func(media *transport.Media) (transport.MessageRef, error) {
		if edit == nil {
			return c.tr.Send(ctx, chatID, text, kb, media)
		}
		ref, err := c.tr.Edit(ctx, *edit, text, kb, media)
		if !errors.Is(err, transport.ErrUnsupportedEditMedia) {
			return ref, err
		}
		if delErr := c.tr.Delete(ctx, *edit); delErr != nil {
			c.log.WithError(delErr).Debug("stale message not deleted")
		}
		edit = nil
		return c.tr.Send(ctx, chatID, text, kb, media)
	}

	for _, cand := range candidates {
		if cand.url == "" {
			continue
		}
		media := &transport.Media{Kind: cand.kind, URL: cand.url}
		ref, err := attempt(media)
		if err == nil {
			return ref, nil
		}

		blob, dlErr := c.download(ctx, cand.url)
		if dlErr != nil {
			c.log.WithError(dlErr).WithField("url", cand.url).Debug("media download failed")
			continue
		}
		media.URL = ""
		media.Blob = blob
		media.Filename = mediaFilenames[cand.kind]
		if ref, err = attempt(media); err == nil {
			return ref, nil
		}
		c.log.WithError(err).WithField("kind", string(cand.kind)).Debug("media kind exhausted")
	}

	// Text-only must succeed whenever the transport is alive.
	return attempt(nil)
}

// DeliverBatch renders a sequence of pre-formatted posts, continuing
// past individual failures. It returns the number delivered.
func (c *Chain) DeliverBatch(ctx context.Context, chatID int64, posts []source.Post, format func(i int, p source.Post) (string, transport.Keyboard)) int {
	delivered := 0
	for i, p := range posts {
		text, kb := format(i, p)
		if _, err := c.Deliver(ctx, chatID, p, text, kb, nil); err != nil {
			c.log.WithError(err).WithField("permalink", p.Permalink).Warn("post delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

func (c *Chain) download(ctx context.Context, mediaURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}
	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	return blob, nil
}
