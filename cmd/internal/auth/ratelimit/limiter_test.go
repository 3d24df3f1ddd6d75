package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var t0 = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

func newTestLimiter() (*Limiter, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(t0)
	return New(fc, DefaultPolicies()), fc
}

func loginKey(client string) Key { return Key{Client: client, Class: ClassLogin} }

// fail runs one admitted-then-failed credential attempt.
func fail(t *testing.T, l *Limiter, k Key) Decision {
	t.Helper()
	if d := l.CheckAdmit(k); !d.Allowed {
		t.Fatalf("CheckAdmit denied unexpectedly: %+v", d)
	}
	return l.RecordFailure(k)
}

func TestRecordFailure_SingleFailureIncrementsByOne(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	k := loginKey("10.0.0.1")

	d := fail(t, l, k)
	if !d.Allowed || d.Remaining != 4 {
		t.Fatalf("unexpected decision: %+v", d)
	}

	e, ok := l.Snapshot(k)
	if !ok {
		t.Fatalf("expected entry")
	}
	if e.Count != 1 {
		t.Fatalf("expected count=1, got %d", e.Count)
	}
	if !e.LockedUntil.IsZero() {
		t.Fatalf("single failure must not lock")
	}
	if e.Pending != 0 {
		t.Fatalf("reservation not settled: pending=%d", e.Pending)
	}
}

func TestLockout_AfterFiveFailures(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()
	k := loginKey("10.0.0.2")

	for i := 0; i < 4; i++ {
		if d := fail(t, l, k); !d.Allowed {
			t.Fatalf("failure %d locked early: %+v", i+1, d)
		}
		fc.Advance(2 * time.Minute)
	}
	d := fail(t, l, k)
	if d.Allowed || d.RetryAfter != 30*time.Minute {
		t.Fatalf("5th failure should lock for 30m, got %+v", d)
	}
	lockedAt := fc.Now()

	fc.Advance(10 * time.Second)
	d = l.CheckAdmit(k)
	if d.Allowed {
		t.Fatalf("expected deny while locked")
	}
	if want := 30*time.Minute - 10*time.Second; d.RetryAfter != want {
		t.Fatalf("retry_after=%v want=%v", d.RetryAfter, want)
	}

	e, _ := l.Snapshot(k)
	if !e.LockedUntil.Equal(lockedAt.Add(30 * time.Minute)) {
		t.Fatalf("locked_until mismatch: %v", e.LockedUntil)
	}
}

func TestLockout_ExpiresAutomatically(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()
	k := loginKey("10.0.0.3")

	for i := 0; i < 5; i++ {
		fail(t, l, k)
	}
	fc.Advance(30 * time.Minute)
	fc.Advance(time.Second)

	d := l.CheckAdmit(k)
	if !d.Allowed {
		t.Fatalf("expected admit after lockout elapsed, got %+v", d)
	}
	e, _ := l.Snapshot(k)
	if e.Count != 0 || !e.LockedUntil.IsZero() {
		t.Fatalf("expected reset entry, got %+v", e)
	}
	l.Release(k)
}

func TestLockout_AdmitsExactlyAtBoundary(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()
	k := loginKey("10.0.0.4")

	for i := 0; i < 5; i++ {
		fail(t, l, k)
	}

	fc.Advance(30*time.Minute - time.Second)
	if d := l.CheckAdmit(k); d.Allowed || d.RetryAfter != time.Second {
		t.Fatalf("expected 1s remaining, got %+v", d)
	}
	fc.Advance(time.Second)
	if d := l.CheckAdmit(k); !d.Allowed {
		t.Fatalf("expected admit at locked_until, got %+v", d)
	}
}

func TestWindow_ExpiryResetsFailures(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()
	k := loginKey("10.0.0.5")

	for i := 0; i < 4; i++ {
		fail(t, l, k)
	}
	fc.Advance(15 * time.Minute)

	d := fail(t, l, k)
	if !d.Allowed {
		t.Fatalf("failure in a fresh window must not lock: %+v", d)
	}
	e, _ := l.Snapshot(k)
	if e.Count != 1 || !e.WindowStart.Equal(fc.Now()) {
		t.Fatalf("expected new window with count=1, got %+v", e)
	}
}

func TestRecordSuccess_ClearsEntry(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	k := loginKey("10.0.0.6")

	for i := 0; i < 3; i++ {
		fail(t, l, k)
	}
	if d := l.CheckAdmit(k); !d.Allowed {
		t.Fatalf("unexpected deny")
	}
	l.RecordSuccess(k)

	if _, ok := l.Snapshot(k); ok {
		t.Fatalf("expected entry to be cleared")
	}
	// A fresh budget is available again.
	for i := 0; i < 4; i++ {
		if d := fail(t, l, k); !d.Allowed {
			t.Fatalf("failure %d locked after reset", i+1)
		}
	}
}

func TestWithSaturatedRetry(t *testing.T) {
	t.Parallel()

	policies := map[Class]Policy{ClassLogin: {Limit: 1, Window: time.Minute, Lockout: time.Hour, Mode: CountFailures}}
	k := loginKey("10.0.0.9")

	l := New(nil, policies, WithSaturatedRetry(3*time.Second))
	l.CheckAdmit(k)
	if d := l.CheckAdmit(k); d.Allowed || d.RetryAfter != 3*time.Second {
		t.Fatalf("expected 3s saturation hint, got %+v", d)
	}

	l = New(nil, policies, WithSaturatedRetry(0))
	l.CheckAdmit(k)
	if d := l.CheckAdmit(k); d.RetryAfter != DefaultSaturatedRetry {
		t.Fatalf("non-positive override must keep the default, got %+v", d)
	}
}

func TestRelease_SettlesReservation(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	k := loginKey("10.0.0.7")

	for i := 0; i < 5; i++ {
		if d := l.CheckAdmit(k); !d.Allowed {
			t.Fatalf("reservation %d denied", i+1)
		}
	}
	if d := l.CheckAdmit(k); d.Allowed || d.RetryAfter != DefaultSaturatedRetry {
		t.Fatalf("expected saturation deny, got %+v", d)
	}

	for i := 0; i < 5; i++ {
		l.Release(k)
	}
	e, _ := l.Snapshot(k)
	if e.Pending != 0 || e.Count != 0 {
		t.Fatalf("expected clean entry after releases, got %+v", e)
	}
	if d := l.CheckAdmit(k); !d.Allowed {
		t.Fatalf("expected admit after release")
	}
}

func TestConcurrentFailures_NeverExceedThreshold(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	k := loginKey("10.0.0.8")

	var checks atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if d := l.CheckAdmit(k); !d.Allowed {
				return
			}
			checks.Add(1)
			l.RecordFailure(k)
		}()
	}
	close(start)
	wg.Wait()

	if n := checks.Load(); n > 5 {
		t.Fatalf("credential checks exceeded threshold: %d", n)
	}
	e, _ := l.Snapshot(k)
	if e.Count > 5 {
		t.Fatalf("failure_count exceeded threshold: %d", e.Count)
	}
	if e.Pending != 0 {
		t.Fatalf("leaked reservations: %d", e.Pending)
	}
}

func TestConcurrentFailures_LastSlot(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	k := loginKey("10.0.0.9")
	for i := 0; i < 4; i++ {
		fail(t, l, k)
	}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckAdmit(k).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := admitted.Load(); n != 1 {
		t.Fatalf("expected exactly one admitted attempt, got %d", n)
	}
}

func TestIndependentKeys(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	a := loginKey("10.0.1.1")
	b := loginKey("10.0.1.2")

	for i := 0; i < 5; i++ {
		fail(t, l, a)
	}
	if d := l.CheckAdmit(b); !d.Allowed {
		t.Fatalf("lockout of one key leaked into another")
	}
	if d := l.CheckAdmit(Key{Client: "10.0.1.1", Class: ClassRefresh}); !d.Allowed {
		t.Fatalf("lockout leaked across classes")
	}
}

func TestAllow_RequestCounting(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()
	k := Key{Client: "10.0.2.1", Class: ClassRefresh}

	for i := 0; i < 10; i++ {
		if d := l.Allow(k); !d.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}
	fc.Advance(20 * time.Second)
	d := l.Allow(k)
	if d.Allowed {
		t.Fatalf("11th request in window must be denied")
	}
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("retry_after=%v want=40s", d.RetryAfter)
	}

	fc.Advance(40 * time.Second)
	if d := l.Allow(k); !d.Allowed {
		t.Fatalf("expected allow in next window, got %+v", d)
	}
}

func TestAllow_UploadClassLimit(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter()
	k := Key{Client: "10.0.2.2", Class: ClassUpload}

	allowed := 0
	for i := 0; i < 25; i++ {
		if l.Allow(k).Allowed {
			allowed++
		}
	}
	if allowed != 20 {
		t.Fatalf("expected 20 uploads per window, got %d", allowed)
	}
}

func TestDisabledPolicy_Unlimited(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClockAt(t0)
	l := New(fc, map[Class]Policy{ClassAPI: {Limit: 0, Window: time.Minute, Mode: CountRequests}})

	for i := 0; i < 1000; i++ {
		if !l.Allow(Key{Client: "c", Class: ClassAPI}).Allowed {
			t.Fatalf("disabled policy must not limit")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("disabled policy must not track state")
	}
	if !l.CheckAdmit(Key{Client: "c", Class: ClassLogin}).Allowed {
		t.Fatalf("unknown class must not limit")
	}
}

func TestPrune_DropsExpiredEntries(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()

	fail(t, l, loginKey("stale"))
	for i := 0; i < 5; i++ {
		fail(t, l, loginKey("locked"))
	}
	l.Allow(Key{Client: "api", Class: ClassAPI})

	fc.Advance(16 * time.Minute)
	if n := l.Prune(fc.Now()); n != 2 {
		t.Fatalf("expected 2 pruned (stale + api), got %d", n)
	}
	if _, ok := l.Snapshot(loginKey("locked")); !ok {
		t.Fatalf("locked entry must survive pruning")
	}

	fc.Advance(15 * time.Minute)
	if n := l.Prune(fc.Now()); n != 1 {
		t.Fatalf("expected locked entry pruned after lockout, got %d", n)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty limiter, got %d", l.Len())
	}
}

func TestPrune_ConcurrentWithTraffic(t *testing.T) {
	t.Parallel()

	l, fc := newTestLimiter()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				k := loginKey("shared")
				if l.CheckAdmit(k).Allowed {
					l.RecordSuccess(k)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			l.Prune(fc.Now())
		}
	}()
	wg.Wait()

	if e, ok := l.Snapshot(loginKey("shared")); ok && e.Pending != 0 {
		t.Fatalf("leaked reservations: %+v", e)
	}
}
