package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a bucket needs to refill completely; an idle bucket that
// old is indistinguishable from a new one and can be dropped.
const idleAfter = time.Minute

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimiter hands out one token bucket per user. A zero rate allows everything.
// Buckets idle for longer than idleAfter are pruned, so the map only holds
// recently active users.
type userLimiter struct {
	mu        sync.Mutex
	perMinute int
	users     map[int64]*userBucket
	lastPrune time.Time
	now       func() time.Time
}

func newUserLimiter(perMinute int) *userLimiter {
	return &userLimiter{perMinute: perMinute, users: map[int64]*userBucket{}, now: time.Now}
}

// SetRate resets every bucket to the new budget.
func (l *userLimiter) SetRate(perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMinute == l.perMinute {
		return
	}
	l.perMinute = perMinute
	l.users = map[int64]*userBucket{}
}

func (l *userLimiter) Allow(user int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perMinute <= 0 {
		return true
	}
	now := l.now()
	if now.Sub(l.lastPrune) >= idleAfter {
		l.pruneLocked(now)
	}
	b, ok := l.users[user]
	if !ok {
		b = &userBucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.users[user] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *userLimiter) pruneLocked(now time.Time) {
	for id, b := range l.users {
		if now.Sub(b.seen) >= idleAfter {
			delete(l.users, id)
		}
	}
	l.lastPrune = now
}

func (l *userLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
