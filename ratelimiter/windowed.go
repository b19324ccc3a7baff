package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fluxforge/syncengine/observability"
)

// ErrTimer is returned when StartCountdown is invoked outside a
// MinuteExceeded window (programmer error on the TaskQueue's part).
var ErrTimer = errors.New("ratelimiter: start_countdown called with no cooldown pending")

// DayResetMode resolves the open question in spec.md §9: whether
// DayExceeded is sticky until local midnight or for a rolling 24h from the
// first breach. The reference (original_source) uses local wall clock, so
// StickyUntilMidnight is the default; RollingWindow is offered as the
// configuration knob the spec asks implementers to expose.
type DayResetMode int

const (
	StickyUntilMidnight DayResetMode = iota
	RollingWindow
)

// WindowedLimiter is the production RateLimiter: a single discrete
// per-minute token count, replenished only when its cooldown timer
// elapses, and a day-level counter that goes terminal for the configured
// window. One mechanism gates the minute budget, the same way the
// teacher's own per-key limiter (control_plane/scheduler/limiter.go) is
// the sole gate for its key — a continuously-refilling token bucket
// layered on top of this counter would drift out of sync with the
// cooldown timer's own discrete reset and could re-deny a request the
// counter had already cleared.
type WindowedLimiter struct {
	quota    RateQuota
	dayReset DayResetMode

	mu              sync.Mutex
	minuteTokens    uint64
	dayTokens       uint64
	dayWindowStart  time.Time
	cooldownPending bool // minute budget hit zero, awaiting StartCountdown
	cooldownActive  bool // countdown timer is running
	cooldownUntil   time.Time
	cooldownDone    chan struct{}

	now func() time.Time
}

// NewWindowedLimiter builds a WindowedLimiter from a dataset's RateQuota,
// the one construction path spec.md §6's "Plan handoff contract" promises
// but never itself defines.
func NewWindowedLimiter(quota RateQuota, dayReset DayResetMode) *WindowedLimiter {
	l := &WindowedLimiter{
		quota:        quota,
		dayReset:     dayReset,
		minuteTokens: uint64(quota.MaxPerMinute),
		dayTokens:    uint64(quota.DailyLimit),
		now:          time.Now,
	}
	l.dayWindowStart = l.now()
	return l
}

func (l *WindowedLimiter) rolloverDayLocked() {
	now := l.now()
	switch l.dayReset {
	case StickyUntilMidnight:
		y1, m1, d1 := l.dayWindowStart.Local().Date()
		y2, m2, d2 := now.Local().Date()
		if y1 != y2 || m1 != m2 || d1 != d2 {
			l.dayTokens = uint64(l.quota.DailyLimit)
			l.dayWindowStart = now
		}
	case RollingWindow:
		if now.Sub(l.dayWindowStart) >= 24*time.Hour {
			l.dayTokens = uint64(l.quota.DailyLimit)
			l.dayWindowStart = now
		}
	}
}

// CanProceed implements RateLimiter.
func (l *WindowedLimiter) CanProceed(ctx context.Context) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverDayLocked()

	if l.dayTokens == 0 {
		return DayExceeded()
	}

	if l.cooldownActive {
		return MinuteExceeded(false, secondsLeft(l.cooldownUntil, l.now()))
	}

	if l.minuteTokens == 0 {
		shouldStart := !l.cooldownPending
		l.cooldownPending = true
		return MinuteExceeded(shouldStart, int64(l.quota.CooldownSeconds))
	}

	l.minuteTokens--
	l.dayTokens--
	return OK(l.minuteTokens)
}

// StartCountdown implements RateLimiter. It is idempotent: concurrent
// callers during the same cooldown window observe the same handle, and
// only the first arms the timer.
func (l *WindowedLimiter) StartCountdown(ctx context.Context, reset bool) (CooldownHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cooldownActive {
		return CooldownHandle{Done: l.cooldownDone}, nil
	}
	if !l.cooldownPending {
		return CooldownHandle{}, ErrTimer
	}

	done := make(chan struct{})
	l.cooldownActive = true
	l.cooldownDone = done
	l.cooldownUntil = l.now().Add(time.Duration(l.quota.CooldownSeconds) * time.Second)
	observability.CooldownsArmed.Inc()

	time.AfterFunc(time.Duration(l.quota.CooldownSeconds)*time.Second, func() {
		l.mu.Lock()
		l.cooldownActive = false
		l.cooldownPending = false
		if reset {
			l.minuteTokens = uint64(l.quota.MaxPerMinute)
		}
		l.mu.Unlock()
		close(done)
	})

	return CooldownHandle{Done: done}, nil
}

func secondsLeft(until, now time.Time) int64 {
	d := until.Sub(now)
	if d < 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}
