// Package store persists per-user preferences in SQLite: subscribed
// sources, keyword filters, batch sizes, digest schedules, and saved
// favorites. Navigation sessions are deliberately not stored here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okulich/newsdeck/internal/schedule"
)

const defaultBatchSize = 10

// SourceKind discriminates subscribed source rows.
type SourceKind string

const (
	SourceChannel SourceKind = "channel"
	SourceFeed    SourceKind = "feed"
)

// SourceRef is one subscribed source.
type SourceRef struct {
	Kind SourceKind
	URL  string
}

// FilterTerms are a user's keyword filters as stored.
type FilterTerms struct {
	Include []string
	Exclude []string
}

// Favorite is a post a user chose to keep.
type Favorite struct {
	SourceID  string
	Title     string
	Permalink string
	SavedAt   time.Time
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertUser registers a user or refreshes their chat id.
func (s *Store) UpsertUser(ctx context.Context, userID, chatID int64) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if userID == 0 {
		return errors.New("user_id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, chat_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id
	`, userID, chatID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ActiveUsers lists every registered user. It satisfies the digest
// scheduler's directory contract.
func (s *Store) ActiveUsers(ctx context.Context) ([]schedule.User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_id, batch_size FROM users ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []schedule.User
	for rows.Next() {
		var u schedule.User
		if err := rows.Scan(&u.ID, &u.ChatID, &u.BatchSize); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// BatchSize returns the user's digest batch size, falling back to the
// default when the user is unknown.
func (s *Store) BatchSize(ctx context.Context, userID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var size int
	err := s.db.QueryRowContext(ctx, "SELECT batch_size FROM users WHERE user_id = ?", userID).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultBatchSize, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read batch size: %w", err)
	}
	return size, nil
}

func (s *Store) SetBatchSize(ctx context.Context, userID int64, size int) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if size <= 0 {
		return errors.New("batch size must be positive")
	}

	res, err := s.db.ExecContext(ctx, "UPDATE users SET batch_size = ? WHERE user_id = ?", size, userID)
	if err != nil {
		return fmt.Errorf("set batch size: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

// AddSource subscribes a user to a source. Re-adding the same URL is a
// no-op.
func (s *Store) AddSource(ctx context.Context, userID int64, ref SourceRef) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ref.Kind != SourceChannel && ref.Kind != SourceFeed {
		return fmt.Errorf("unknown source kind %q", ref.Kind)
	}
	if strings.TrimSpace(ref.URL) == "" {
		return errors.New("source url is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_sources (user_id, kind, url) VALUES (?, ?, ?)
	`, userID, string(ref.Kind), strings.TrimSpace(ref.URL))
	if err != nil {
		return fmt.Errorf("add source: %w", err)
	}
	return nil
}

func (s *Store) RemoveSource(ctx context.Context, userID int64, url string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM user_sources WHERE user_id = ? AND url = ?", userID, url)
	if err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}

func (s *Store) Sources(ctx context.Context, userID int64) ([]SourceRef, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, url FROM user_sources WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []SourceRef
	for rows.Next() {
		var kind, url string
		if err := rows.Scan(&kind, &url); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		refs = append(refs, SourceRef{Kind: SourceKind(kind), URL: url})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return refs, nil
}

// Filter returns the user's keyword filters; a user with no stored
// filter gets empty terms.
func (s *Store) Filter(ctx context.Context, userID int64) (FilterTerms, error) {
	if s == nil || s.db == nil {
		return FilterTerms{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var includeJSON, excludeJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT include, exclude FROM user_filters WHERE user_id = ?", userID,
	).Scan(&includeJSON, &excludeJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return FilterTerms{}, nil
	}
	if err != nil {
		return FilterTerms{}, fmt.Errorf("read filter: %w", err)
	}

	var terms FilterTerms
	if err := json.Unmarshal([]byte(includeJSON), &terms.Include); err != nil {
		return FilterTerms{}, fmt.Errorf("decode include terms: %w", err)
	}
	if err := json.Unmarshal([]byte(excludeJSON), &terms.Exclude); err != nil {
		return FilterTerms{}, fmt.Errorf("decode exclude terms: %w", err)
	}
	return terms, nil
}

func (s *Store) SetFilter(ctx context.Context, userID int64, terms FilterTerms) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	includeJSON, err := json.Marshal(emptyIfNil(terms.Include))
	if err != nil {
		return fmt.Errorf("encode include terms: %w", err)
	}
	excludeJSON, err := json.Marshal(emptyIfNil(terms.Exclude))
	if err != nil {
		return fmt.Errorf("encode exclude terms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_filters (user_id, include, exclude)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			include = excluded.include,
			exclude = excluded.exclude
	`, userID, string(includeJSON), string(excludeJSON))
	if err != nil {
		return fmt.Errorf("set filter: %w", err)
	}
	return nil
}

// DigestSchedule loads a user's digest slot. The second return value
// reports whether one is configured.
func (s *Store) DigestSchedule(ctx context.Context, userID int64) (schedule.DigestSchedule, bool, error) {
	if s == nil || s.db == nil {
		return schedule.DigestSchedule{}, false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		timeOfDay, weekdaysJSON string
		enabled                 int
		lastFired               sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT time_of_day, weekdays, enabled, last_fired_at
		FROM digest_schedules WHERE user_id = ?
	`, userID).Scan(&timeOfDay, &weekdaysJSON, &enabled, &lastFired)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.DigestSchedule{}, false, nil
	}
	if err != nil {
		return schedule.DigestSchedule{}, false, fmt.Errorf("read schedule: %w", err)
	}

	var weekdayInts []int
	if err := json.Unmarshal([]byte(weekdaysJSON), &weekdayInts); err != nil {
		return schedule.DigestSchedule{}, false, fmt.Errorf("decode weekdays: %w", err)
	}

	sched := schedule.DigestSchedule{
		TimeOfDay: timeOfDay,
		Enabled:   enabled != 0,
	}
	for _, wd := range weekdayInts {
		sched.Weekdays = append(sched.Weekdays, time.Weekday(wd))
	}
	if lastFired.Valid {
		sched.LastFiredAt, err = parseTime(lastFired.String)
		if err != nil {
			return schedule.DigestSchedule{}, false, fmt.Errorf("parse last_fired_at: %w", err)
		}
	}
	return sched, true, nil
}

// SetDigestSchedule validates and stores a user's digest slot,
// preserving any recorded fire time.
func (s *Store) SetDigestSchedule(ctx context.Context, userID int64, sched schedule.DigestSchedule) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sched.Validate(); err != nil {
		return err
	}

	weekdayInts := make([]int, 0, len(sched.Weekdays))
	for _, wd := range sched.Weekdays {
		weekdayInts = append(weekdayInts, int(wd))
	}
	weekdaysJSON, err := json.Marshal(weekdayInts)
	if err != nil {
		return fmt.Errorf("encode weekdays: %w", err)
	}

	enabled := 0
	if sched.Enabled {
		enabled = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO digest_schedules (user_id, time_of_day, weekdays, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			time_of_day = excluded.time_of_day,
			weekdays = excluded.weekdays,
			enabled = excluded.enabled
	`, userID, sched.TimeOfDay, string(weekdaysJSON), enabled)
	if err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}
	return nil
}

// MarkDigestFired records the instant a digest was delivered for the
// at-most-once guard.
func (s *Store) MarkDigestFired(ctx context.Context, userID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE digest_schedules SET last_fired_at = ? WHERE user_id = ?",
		formatTime(at), userID,
	)
	if err != nil {
		return fmt.Errorf("mark digest fired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no schedule for user %d", userID)
	}
	return nil
}

// SaveFavorite keeps a post for later. Saving the same post twice
// refreshes the saved time.
func (s *Store) SaveFavorite(ctx context.Context, userID int64, fav Favorite) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(fav.SourceID) == "" {
		return errors.New("source_id is required")
	}
	if strings.TrimSpace(fav.Title) == "" {
		return errors.New("title is required")
	}
	if fav.SavedAt.IsZero() {
		fav.SavedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, source_id, title, permalink, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source_id) DO UPDATE SET
			title = excluded.title,
			permalink = excluded.permalink,
			saved_at = excluded.saved_at
	`, userID, fav.SourceID, fav.Title, fav.Permalink, formatTime(fav.SavedAt))
	if err != nil {
		return fmt.Errorf("save favorite: %w", err)
	}
	return nil
}

// Favorites lists a user's saved posts, newest first.
func (s *Store) Favorites(ctx context.Context, userID int64, limit int) ([]Favorite, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, title, permalink, saved_at
		FROM favorites
		WHERE user_id = ?
		ORDER BY saved_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var favs []Favorite
	for rows.Next() {
		var (
			fav       Favorite
			permalink sql.NullString
			savedAt   string
		)
		if err := rows.Scan(&fav.SourceID, &fav.Title, &permalink, &savedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		if permalink.Valid {
			fav.Permalink = permalink.String
		}
		fav.SavedAt, err = parseTime(savedAt)
		if err != nil {
			return nil, fmt.Errorf("parse saved_at: %w", err)
		}
		favs = append(favs, fav)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return favs, nil
}

func emptyIfNil(terms []string) []string {
	if terms == nil {
		return []string{}
	}
	return terms
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
