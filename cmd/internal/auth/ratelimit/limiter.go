package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSaturatedRetry is the retry hint when every remaining failure slot of
// a key is already reserved by in-flight attempts.
const DefaultSaturatedRetry = time.Second

// Limiter is safe for concurrent use.
type Limiter struct {
	clock    clockwork.Clock
	policies map[Class]Policy

	saturatedRetry time.Duration

	entries sync.Map // Key -> *entry
}

type entry struct {
	mu sync.Mutex

	count       int
	windowStart time.Time
	lockedUntil time.Time
	pending     int

	// dead is set under mu when Prune removes the entry from the map.
	// Holders of a stale pointer must reload.
	dead bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithSaturatedRetry overrides DefaultSaturatedRetry.
func WithSaturatedRetry(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.saturatedRetry = d
		}
	}
}

// New builds a Limiter. A nil clock uses the real clock; missing classes are unlimited.
func New(clock clockwork.Clock, policies map[Class]Policy, opts ...Option) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ps := make(map[Class]Policy, len(policies))
	for c, p := range policies {
		ps[c] = p
	}

	l := &Limiter{
		clock:          clock,
		policies:       ps,
		saturatedRetry: DefaultSaturatedRetry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Policy returns the configured policy for c.
func (l *Limiter) Policy(c Class) (Policy, bool) {
	p, ok := l.policies[c]
	return p, ok && p.Enabled()
}

// CheckAdmit decides whether a credential check may run for key.
//
// An admitted call on a CountFailures class holds a reservation that the
// caller must settle with exactly one of RecordFailure, RecordSuccess or Release.
func (l *Limiter) CheckAdmit(key Key) Decision {
	p, ok := l.Policy(key.Class)
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := l.clock.Now()
	e := l.acquire(key)
	defer e.mu.Unlock()

	e.normalize(now, p)

	if e.locked(now) {
		return Decision{RetryAfter: e.lockedUntil.Sub(now)}
	}

	if p.Mode == CountFailures {
		if e.count+e.pending >= p.Limit {
			return Decision{RetryAfter: l.saturatedRetry}
		}
		e.pending++
	}

	return Decision{Allowed: true, Remaining: p.Limit - e.count - e.pending}
}

// RecordFailure counts one failed credential check and settles its reservation.
// The returned decision reports whether the key is now locked.
func (l *Limiter) RecordFailure(key Key) Decision {
	p, ok := l.Policy(key.Class)
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := l.clock.Now()
	e := l.acquire(key)
	defer e.mu.Unlock()

	e.normalize(now, p)
	if e.pending > 0 {
		e.pending--
	}

	// Window is frozen while locked.
	if e.locked(now) {
		return Decision{RetryAfter: e.lockedUntil.Sub(now)}
	}

	if e.windowStart.IsZero() || !now.Before(e.windowStart.Add(p.Window)) {
		e.windowStart = now
		e.count = 1
	} else {
		e.count++
	}

	if e.count >= p.Limit {
		e.lockedUntil = now.Add(p.Lockout)
		if p.Lockout > 0 {
			return Decision{RetryAfter: p.Lockout}
		}
		return Decision{RetryAfter: e.windowStart.Add(p.Window).Sub(now)}
	}

	return Decision{Allowed: true, Remaining: p.Limit - e.count}
}

// RecordSuccess clears the key's failures and lock, and settles the caller's reservation.
func (l *Limiter) RecordSuccess(key Key) {
	if _, ok := l.Policy(key.Class); !ok {
		return
	}

	e := l.acquire(key)
	defer e.mu.Unlock()

	e.count = 0
	e.windowStart = time.Time{}
	e.lockedUntil = time.Time{}
	if e.pending > 0 {
		e.pending--
	}
	if e.pending == 0 {
		l.drop(key, e)
	}
}

// Release settles a reservation without a verdict (the attempt failed for
// reasons unrelated to the credentials, e.g. storage).
func (l *Limiter) Release(key Key) {
	if _, ok := l.Policy(key.Class); !ok {
		return
	}

	e := l.acquire(key)
	defer e.mu.Unlock()

	if e.pending > 0 {
		e.pending--
	}
}

// Allow counts one request against a CountRequests class.
func (l *Limiter) Allow(key Key) Decision {
	p, ok := l.Policy(key.Class)
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := l.clock.Now()
	e := l.acquire(key)
	defer e.mu.Unlock()

	e.normalize(now, p)

	if e.locked(now) {
		return Decision{RetryAfter: e.lockedUntil.Sub(now)}
	}

	if e.windowStart.IsZero() {
		e.windowStart = now
		e.count = 0
	}

	if e.count >= p.Limit {
		if p.Lockout > 0 {
			e.lockedUntil = now.Add(p.Lockout)
			return Decision{RetryAfter: p.Lockout}
		}
		return Decision{RetryAfter: e.windowStart.Add(p.Window).Sub(now)}
	}

	e.count++
	return Decision{Allowed: true, Remaining: p.Limit - e.count}
}

// Snapshot returns the raw state of key, if any.
func (l *Limiter) Snapshot(key Key) (Entry, bool) {
	v, ok := l.entries.Load(key)
	if !ok {
		return Entry{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return Entry{}, false
	}
	return Entry{
		Count:       e.count,
		WindowStart: e.windowStart,
		LockedUntil: e.lockedUntil,
		Pending:     e.pending,
	}, true
}

// Prune removes entries that are logically expired and returns how many were dropped.
func (l *Limiter) Prune(now time.Time) int {
	removed := 0
	l.entries.Range(func(k, v any) bool {
		key := k.(Key)
		e := v.(*entry)

		p, ok := l.Policy(key.Class)

		e.mu.Lock()
		if !ok || e.idle(now, p) {
			l.drop(key, e)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// acquire returns the live entry for key with its mutex held.
func (l *Limiter) acquire(key Key) *entry {
	for {
		v, _ := l.entries.LoadOrStore(key, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// drop must be called with e.mu held.
func (l *Limiter) drop(key Key, e *entry) {
	if e.dead {
		return
	}
	e.dead = true
	l.entries.CompareAndDelete(key, e)
}

func (e *entry) locked(now time.Time) bool {
	return !e.lockedUntil.IsZero() && now.Before(e.lockedUntil)
}

// normalize resets an elapsed lock or window. A lock that has run out ends
// the frozen window with it.
func (e *entry) normalize(now time.Time, p Policy) {
	if !e.lockedUntil.IsZero() {
		if now.Before(e.lockedUntil) {
			return
		}
		e.lockedUntil = time.Time{}
		e.count = 0
		e.windowStart = time.Time{}
		return
	}
	if !e.windowStart.IsZero() && !now.Before(e.windowStart.Add(p.Window)) {
		e.count = 0
		e.windowStart = time.Time{}
	}
}

func (e *entry) idle(now time.Time, p Policy) bool {
	if e.pending > 0 {
		return false
	}
	if e.locked(now) {
		return false
	}
	return e.windowStart.IsZero() || !now.Before(e.windowStart.Add(p.Window))
}
