// Package quota enforces the per-user hourly request budget.
package quota

import (
	"sync"
	"time"
)

// Window is the sliding window every user's hits are counted over.
const Window = time.Hour

// Quota tracks request timestamps per user. A limit of zero or below
// disables the quota entirely.
type Quota struct {
	limit int

	mu   sync.Mutex
	hits map[int64][]time.Time
	now  func() time.Time
}

func New(limitPerHour int) *Quota {
	return &Quota{
		limit: limitPerHour,
		hits:  make(map[int64][]time.Time),
		now:   time.Now,
	}
}

// Allow records a hit for user when they are under the limit. When over it,
// it reports false plus how long until the oldest hit leaves the window,
// never less than a second.
func (q *Quota) Allow(user int64) (bool, time.Duration) {
	if q.limit <= 0 {
		return true, 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	hits := trim(q.hits[user], now)

	if len(hits) >= q.limit {
		q.hits[user] = hits
		retry := Window - now.Sub(hits[0])
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}

	q.hits[user] = append(hits, now)
	return true, 0
}

// Prune forgets users whose every hit has left the window and reports how
// many users remain tracked.
func (q *Quota) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for user, hits := range q.hits {
		if len(trim(hits, now)) == 0 {
			delete(q.hits, user)
		}
	}
	return len(q.hits)
}

// Users reports how many users currently have tracked hits.
func (q *Quota) Users() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hits)
}

func trim(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		hits = append(hits[:0], hits[i:]...)
	}
	return hits
}
