package session

import (
	"sync"
	"time"
)

const (
	// Cooldown windows bound duplicate fetch/render races from rapid
	// repeated taps. Best-effort guard, not a mutex.
	PaginationCooldown = time.Second
	ModeCooldown       = 500 * time.Millisecond
)

// Gate rejects a user's action when it arrives before the previous
// action's cooldown window has expired.
type Gate struct {
	mu   sync.Mutex
	last map[int64]gateEntry
	now  func() time.Time
}

type gateEntry struct {
	at       time.Time
	cooldown time.Duration
}

func NewGate() *Gate {
	return &Gate{
		last: make(map[int64]gateEntry),
		now:  time.Now,
	}
}

// Allow reports whether the action may proceed and, if so, starts a new
// cooldown window of the given length.
func (g *Gate) Allow(userID int64, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if e, ok := g.last[userID]; ok && now.Sub(e.at) < e.cooldown {
		return false
	}
	g.last[userID] = gateEntry{at: now, cooldown: cooldown}
	return true
}
