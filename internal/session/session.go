// Package session implements the per-user navigation state machine
// over a ranked post list, with lazy content enrichment, pagination
// refill, and cooldown gating.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/okulich/newsdeck/internal/deliver"
	"github.com/okulich/newsdeck/internal/pipeline"
	"github.com/okulich/newsdeck/internal/source"
	"github.com/okulich/newsdeck/internal/summarize"
	"github.com/okulich/newsdeck/internal/transport"
)

// ErrSessionNotFound reports a navigation action against an expired or
// absent session; the user is prompted to start a new listing.
var ErrSessionNotFound = errors.New("session not found")

// ErrCooldown reports an action rejected by the cooldown gate.
var ErrCooldown = errors.New("cooldown window active")

// refillThreshold is the minimum number of posts that must remain ahead
// of the cursor after a forward move; below it the pipeline is invoked
// again and results are appended.
const refillThreshold = 3

// ViewMode controls how much body text the current post renders with.
type ViewMode int

const (
	ModeNormal ViewMode = iota
	ModeSummary
	ModeFull
)

func (m ViewMode) String() string {
	switch m {
	case ModeSummary:
		return "summary"
	case ModeFull:
		return "full"
	default:
		return "normal"
	}
}

// Action is an explicit user-triggered transition.
type Action string

const (
	ActionNext    Action = "next"
	ActionPrev    Action = "prev"
	ActionSummary Action = "summary"
	ActionFull    Action = "full"
	ActionNormal  Action = "normal"
	ActionSave    Action = "save"
	ActionExit    Action = "exit"
)

// SaveFunc persists the current post as a favorite. A nil SaveFunc
// hides the Save action.
type SaveFunc func(ctx context.Context, userID int64, p source.Post) error

// ListingKind selects what a listing shows and how it is ranked.
type ListingKind string

const (
	// KindTop ranks by view count; the default.
	KindTop ListingKind = "top"
	// KindLatest ranks by recency.
	KindLatest ListingKind = "latest"
	// KindSearch ranks by view count over posts matching the query.
	KindSearch ListingKind = "search"
)

// ListingConfig is the kind/source/filter configuration a listing was
// started with; refills reuse it unchanged.
type ListingConfig struct {
	Kind       ListingKind
	Query      string
	Sources    []source.Source
	Filter     pipeline.Filter
	WindowDays int
	Limit      int
}

func (c ListingConfig) order() pipeline.Order {
	if c.Kind == KindLatest {
		return pipeline.OrderLatest
	}
	return pipeline.OrderTop
}

// effectiveFilter folds a search query's terms into the include set so
// refills match the original listing.
func (c ListingConfig) effectiveFilter() pipeline.Filter {
	f := c.Filter
	if c.Kind == KindSearch && strings.TrimSpace(c.Query) != "" {
		include := append([]string{}, f.Include...)
		f.Include = append(include, strings.Fields(c.Query)...)
	}
	return f
}

type enrichment struct {
	summary string
	full    string
}

// Session is one user's in-memory navigation state. Invariant: when the
// post list is non-empty, 0 <= Index < len(Posts).
type Session struct {
	UserID  int64
	ChatID  int64
	Posts   []source.Post
	Index   int
	Mode    ViewMode
	LastMsg transport.MessageRef
	Config  ListingConfig

	cache map[int]*enrichment
}

func (s *Session) enrichmentAt(idx int) *enrichment {
	if s.cache == nil {
		s.cache = make(map[int]*enrichment)
	}
	e, ok := s.cache[idx]
	if !ok {
		e = &enrichment{}
		s.cache[idx] = e
	}
	return e
}

// Navigator drives sessions: it starts listings, applies transitions,
// and renders through the delivery chain.
type Navigator struct {
	store    Store
	pipe     *pipeline.Pipeline
	chain    *deliver.Chain
	articles *source.ArticleFetcher
	gate     *Gate
	save     SaveFunc
	log      logrus.FieldLogger

	summarySentences int
	summaryMaxChars  int
}

func NewNavigator(store Store, pipe *pipeline.Pipeline, chain *deliver.Chain, articles *source.ArticleFetcher, gate *Gate, save SaveFunc, log logrus.FieldLogger) *Navigator {
	return &Navigator{
		store:            store,
		pipe:             pipe,
		chain:            chain,
		articles:         articles,
		gate:             gate,
		save:             save,
		log:              log,
		summarySentences: summarize.DefaultSentences,
		summaryMaxChars:  summarize.DefaultMaxChars,
	}
}

// StartListing aggregates posts for the configuration and opens a fresh
// session, replacing any existing session for the user wholesale. An
// empty aggregation is surfaced as a plain notice, not a failure.
func (n *Navigator) StartListing(ctx context.Context, userID, chatID int64, cfg ListingConfig) error {
	cfg.Filter = cfg.effectiveFilter()
	posts, err := n.pipe.Aggregate(ctx, cfg.Sources, cfg.Filter, cfg.WindowDays, cfg.Limit, cfg.order())
	if errors.Is(err, pipeline.ErrEmptyResult) {
		// Starting a listing always replaces the previous one, even
		// when there is nothing to show.
		n.store.Delete(userID)
		return n.tr().Notify(ctx, chatID, "Nothing found for this listing. Try widening the window or filters.")
	}
	if err != nil {
		return fmt.Errorf("start listing: %w", err)
	}

	sess := &Session{
		UserID: userID,
		ChatID: chatID,
		Posts:  posts,
		Config: cfg,
	}
	n.store.Put(userID, sess)
	return n.render(ctx, sess)
}

// Handle applies one navigation action. Every successful transition
// produces exactly one render; rejected or out-of-bounds actions
// produce a transient notice instead.
func (n *Navigator) Handle(ctx context.Context, userID, chatID int64, action Action) error {
	sess, ok := n.store.Get(userID)
	if !ok {
		_ = n.tr().Notify(ctx, chatID, "This listing has expired. Start a new one from the menu.")
		return ErrSessionNotFound
	}

	if action == ActionExit {
		n.store.Delete(userID)
		return n.tr().Notify(ctx, chatID, "Listing closed.")
	}

	cooldown := ModeCooldown
	if action == ActionNext || action == ActionPrev {
		cooldown = PaginationCooldown
	}
	if !n.gate.Allow(userID, cooldown) {
		_ = n.tr().Notify(ctx, chatID, "Please wait a moment.")
		return ErrCooldown
	}

	switch action {
	case ActionNext:
		return n.move(ctx, sess, +1)
	case ActionPrev:
		return n.move(ctx, sess, -1)
	case ActionNormal:
		sess.Mode = ModeNormal
		return n.render(ctx, sess)
	case ActionSummary:
		if err := n.ensureEnrichment(ctx, sess, ModeSummary); err != nil {
			return n.enrichmentFailed(ctx, sess, err)
		}
		sess.Mode = ModeSummary
		return n.render(ctx, sess)
	case ActionFull:
		if err := n.ensureEnrichment(ctx, sess, ModeFull); err != nil {
			return n.enrichmentFailed(ctx, sess, err)
		}
		sess.Mode = ModeFull
		return n.render(ctx, sess)
	case ActionSave:
		return n.saveCurrent(ctx, sess)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// move shifts the cursor by delta, clamped to the list bounds, and
// resets the view mode. A forward move refills the tail from the
// pipeline when too few posts remain ahead.
func (n *Navigator) move(ctx context.Context, sess *Session, delta int) error {
	if delta > 0 {
		if remaining := len(sess.Posts) - (sess.Index + 1) - 1; remaining < refillThreshold {
			n.refill(ctx, sess)
		}
		if sess.Index == len(sess.Posts)-1 {
			return n.tr().Notify(ctx, sess.ChatID, "No more posts.")
		}
		sess.Index++
	} else {
		if sess.Index == 0 {
			return n.tr().Notify(ctx, sess.ChatID, "Already at the first post.")
		}
		sess.Index--
	}
	sess.Mode = ModeNormal
	return n.render(ctx, sess)
}

// refill re-runs the pipeline with the session's original configuration
// and appends unseen posts, de-duplicating by source id and permalink.
func (n *Navigator) refill(ctx context.Context, sess *Session) {
	posts, err := n.pipe.Aggregate(ctx, sess.Config.Sources, sess.Config.Filter, sess.Config.WindowDays, sess.Config.Limit, sess.Config.order())
	if err != nil {
		if !errors.Is(err, pipeline.ErrEmptyResult) {
			n.log.WithError(err).Warn("refill failed")
		}
		return
	}

	seen := make(map[string]bool, len(sess.Posts))
	for _, p := range sess.Posts {
		seen[p.SourceID] = true
		seen[p.Permalink] = true
	}
	for _, p := range posts {
		if seen[p.SourceID] || seen[p.Permalink] {
			continue
		}
		seen[p.SourceID] = true
		seen[p.Permalink] = true
		sess.Posts = append(sess.Posts, p)
	}
}

// ensureEnrichment lazily fetches and caches the summary or full text
// for the current post.
func (n *Navigator) ensureEnrichment(ctx context.Context, sess *Session, mode ViewMode) error {
	e := sess.enrichmentAt(sess.Index)
	if (mode == ModeSummary && e.summary != "") || (mode == ModeFull && e.full != "") {
		return nil
	}

	art, err := n.articles.Fetch(ctx, sess.Posts[sess.Index].Permalink)
	if err != nil {
		return err
	}
	e.full = art.Content
	e.summary = summarize.Excerpt(art.Content, n.summarySentences, n.summaryMaxChars)
	return nil
}

// saveCurrent persists the post under the cursor. Saving is a notice,
// not a transition: the message is left as rendered.
func (n *Navigator) saveCurrent(ctx context.Context, sess *Session) error {
	if n.save == nil {
		return n.tr().Notify(ctx, sess.ChatID, "Saving is not available.")
	}
	post := sess.Posts[sess.Index]
	if err := n.save(ctx, sess.UserID, post); err != nil {
		n.log.WithError(err).WithField("permalink", post.Permalink).Warn("favorite not saved")
		return n.tr().Notify(ctx, sess.ChatID, "Could not save this post.")
	}
	return n.tr().Notify(ctx, sess.ChatID, "Saved.")
}

func (n *Navigator) enrichmentFailed(ctx context.Context, sess *Session, err error) error {
	n.log.WithError(err).WithField("permalink", sess.Posts[sess.Index].Permalink).Warn("article fetch failed")
	return n.tr().Notify(ctx, sess.ChatID, "Could not fetch the article. Open the source link instead.")
}

// render produces the single render of a successful transition: the
// formatted text, the keyboard of legal transitions, and the current
// post's media, edited in place over the previous message when one
// exists.
func (n *Navigator) render(ctx context.Context, sess *Session) error {
	post := sess.Posts[sess.Index]
	text := n.formatPost(sess)
	kb := n.keyboard(sess)

	var edit *transport.MessageRef
	if !sess.LastMsg.Zero() {
		edit = &sess.LastMsg
	}

	ref, err := n.chain.Deliver(ctx, sess.ChatID, post, text, kb, edit)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	sess.LastMsg = ref
	n.store.Put(sess.UserID, sess)
	return nil
}

func (n *Navigator) formatPost(sess *Session) string {
	post := sess.Posts[sess.Index]

	text := fmt.Sprintf("<b>%s</b>\n", post.Title)
	switch sess.Mode {
	case ModeSummary:
		text += "\n" + sess.enrichmentAt(sess.Index).summary + "\n"
	case ModeFull:
		text += "\n" + sess.enrichmentAt(sess.Index).full + "\n"
	}
	text += fmt.Sprintf("\n%s", post.SourceLabel)
	if post.Views > 0 {
		text += fmt.Sprintf("   %d views", post.Views)
	}
	text += fmt.Sprintf("\n%d of %d", sess.Index+1, len(sess.Posts))
	return text
}

// keyboard lists only the transitions legal from the session's state.
func (n *Navigator) keyboard(sess *Session) transport.Keyboard {
	var modeRow []transport.Button
	if sess.Mode != ModeSummary {
		modeRow = append(modeRow, transport.Button{Label: "Summary", Action: string(ActionSummary)})
	}
	if sess.Mode != ModeFull {
		modeRow = append(modeRow, transport.Button{Label: "Full", Action: string(ActionFull)})
	}
	if sess.Mode != ModeNormal {
		modeRow = append(modeRow, transport.Button{Label: "Back", Action: string(ActionNormal)})
	}

	var navRow []transport.Button
	if sess.Index > 0 {
		navRow = append(navRow, transport.Button{Label: "Prev", Action: string(ActionPrev)})
	}
	if sess.Index < len(sess.Posts)-1 {
		navRow = append(navRow, transport.Button{Label: "Next", Action: string(ActionNext)})
	}

	bottom := []transport.Button{
		{Label: "Open", URL: sess.Posts[sess.Index].Permalink},
	}
	if n.save != nil {
		bottom = append(bottom, transport.Button{Label: "Save", Action: string(ActionSave)})
	}
	bottom = append(bottom, transport.Button{Label: "Close", Action: string(ActionExit)})

	kb := transport.Keyboard{modeRow}
	if len(navRow) > 0 {
		kb = append(kb, navRow)
	}
	return append(kb, bottom)
}

// tr exposes the chain's transport for notices. Notices bypass media
// negotiation entirely.
func (n *Navigator) tr() transport.Transport {
	return n.chain.Transport()
}
