package ratelimit

import (
	"fmt"
	"time"
)

// Class identifies an endpoint class sharing one rate-limit policy.
type Class string

const (
	ClassLogin   Class = "login"
	ClassRefresh Class = "refresh"
	ClassAPI     Class = "api"
	ClassUpload  Class = "upload"
)

// Mode selects what a policy counts.
type Mode int

const (
	// CountFailures counts only RecordFailure calls.
	CountFailures Mode = iota
	// CountRequests counts every Allow call.
	CountRequests
)

func (m Mode) String() string {
	switch m {
	case CountFailures:
		return "failures"
	case CountRequests:
		return "requests"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Policy configures one class.
// Limit <= 0 disables limiting for the class.
type Policy struct {
	Limit   int
	Window  time.Duration
	Lockout time.Duration
	Mode    Mode
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool { return p.Limit > 0 && p.Window > 0 }

// DefaultPolicies returns the stock per-class policies.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassLogin:   {Limit: 5, Window: 15 * time.Minute, Lockout: 30 * time.Minute, Mode: CountFailures},
		ClassRefresh: {Limit: 10, Window: time.Minute, Mode: CountRequests},
		ClassAPI:     {Limit: 100, Window: time.Minute, Mode: CountRequests},
		ClassUpload:  {Limit: 20, Window: time.Minute, Mode: CountRequests},
	}
}

// Key scopes limiter state to one client on one class.
type Key struct {
	Client string
	Class  Class
}

// Decision is the outcome of a limiter call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Remaining is the budget left in the current window (best effort).
	Remaining int
}

// Entry is a read-only snapshot of one key's state.
type Entry struct {
	Count       int
	WindowStart time.Time
	LockedUntil time.Time
	Pending     int
}
