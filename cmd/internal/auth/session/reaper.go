package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sweeper is the part of Store the reaper needs.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepObserver is told about every sweep outcome.
type SweepObserver func(removed int64, took time.Duration, err error)

// Reaper periodically deletes expired sessions.
type Reaper struct {
	store    Sweeper
	clock    clockwork.Clock
	log      *slog.Logger
	interval time.Duration
	timeout  time.Duration

	observe SweepObserver
	after   []func(now time.Time)
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperClock sets the reaper's time source.
func WithReaperClock(c clockwork.Clock) ReaperOption {
	return func(r *Reaper) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithReaperLogger sets the logger.
func WithReaperLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSweepObserver registers a callback for metrics.
func WithSweepObserver(fn SweepObserver) ReaperOption {
	return func(r *Reaper) { r.observe = fn }
}

// WithAfterSweep registers hooks run after each tick, whether or not the sweep failed.
func WithAfterSweep(fns ...func(now time.Time)) ReaperOption {
	return func(r *Reaper) {
		for _, fn := range fns {
			if fn != nil {
				r.after = append(r.after, fn)
			}
		}
	}
}

// NewReaper builds a Reaper that sweeps every interval, each sweep bounded by timeout.
func NewReaper(store Sweeper, interval, timeout time.Duration, opts ...ReaperOption) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	r := &Reaper{
		store:    store,
		clock:    clockwork.NewRealClock(),
		log:      slog.Default(),
		interval: interval,
		timeout:  timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run sweeps on every tick until ctx is done. It always returns nil; a failed
// sweep is logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	t := r.clock.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("session.reaper.start", "interval", r.interval.String())

	for {
		select {
		case <-ctx.Done():
			r.log.Info("session.reaper.stop")
			return nil
		case <-t.Chan():
			now := r.clock.Now()
			_, _ = r.SweepOnce(ctx, now)
			for _, fn := range r.after {
				fn(now)
			}
		}
	}
}

// SweepOnce runs a single bounded sweep at now.
func (r *Reaper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	n, err := r.store.SweepExpired(sctx, now)
	took := time.Since(start)

	if r.observe != nil {
		r.observe(n, took, err)
	}
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("session.reaper.sweep.fail", "err", err)
		}
		return 0, err
	}
	if n > 0 {
		r.log.Info("session.reaper.sweep", "removed", n, "took_ms", took.Milliseconds())
	} else {
		r.log.Debug("session.reaper.sweep", "removed", n)
	}
	return n, nil
}
