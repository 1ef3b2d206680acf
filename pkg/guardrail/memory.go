package guardrail

import (
	"context"
	"sync"
	"time"
)

// ownerState tracks one owner's spend windows. Guarded by MemoryLedger.mu.
type ownerState struct {
	minuteCount int
	minuteStart time.Time

	dailyCostUSD float64
	dayStart     time.Time

	creditsRemaining int64
	monthStart       time.Time
}

// MemoryLedger is the default process-local ledger. State is created lazily
// per owner and reset at window boundaries. It does not coordinate across
// instances; see redisledger for a shared-counter alternative.
type MemoryLedger struct {
	mu     sync.Mutex
	limits Limits
	states map[string]*ownerState
	now    func() time.Time
}

// NewMemoryLedger creates a ledger with the given limits.
func NewMemoryLedger(limits Limits) *MemoryLedger {
	return &MemoryLedger{
		limits: limits,
		states: make(map[string]*ownerState),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLedger) stateFor(ownerID string, now time.Time) *ownerState {
	s, ok := l.states[ownerID]
	if !ok {
		s = &ownerState{
			minuteStart:      now.Truncate(time.Minute),
			dayStart:         startOfDay(now),
			monthStart:       startOfMonth(now),
			creditsRemaining: l.limits.MonthlyCredits,
		}
		l.states[ownerID] = s
	}
	return s
}

// roll resets any window whose boundary the clock has crossed.
func (l *MemoryLedger) roll(s *ownerState, now time.Time) {
	if minute := now.Truncate(time.Minute); minute.After(s.minuteStart) {
		s.minuteStart = minute
		s.minuteCount = 0
	}
	if day := startOfDay(now); day.After(s.dayStart) {
		s.dayStart = day
		s.dailyCostUSD = 0
	}
	if month := startOfMonth(now); month.After(s.monthStart) {
		s.monthStart = month
		s.creditsRemaining = l.limits.MonthlyCredits
	}
}

// Reserve checks the three windows in order and debits the monthly credits.
func (l *MemoryLedger) Reserve(_ context.Context, ownerID string, credits int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := l.stateFor(ownerID, now)
	l.roll(s, now)

	if s.minuteCount >= l.limits.PerMinute {
		return 0, &LimitError{
			Scope:      ScopeMinute,
			RetryAfter: s.minuteStart.Add(time.Minute).Sub(now),
		}
	}
	if s.dailyCostUSD >= l.limits.DailyCostUSD {
		return 0, &LimitError{
			Scope:      ScopeDailyCost,
			RetryAfter: s.dayStart.AddDate(0, 0, 1).Sub(now),
		}
	}
	if s.creditsRemaining-credits < 0 {
		return 0, &LimitError{
			Scope:      ScopeMonthly,
			RetryAfter: s.monthStart.AddDate(0, 1, 0).Sub(now),
		}
	}

	s.creditsRemaining -= credits
	return s.creditsRemaining, nil
}

// Commit records a completed call in the minute and daily-cost windows.
func (l *MemoryLedger) Commit(_ context.Context, ownerID string, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := l.stateFor(ownerID, now)
	l.roll(s, now)

	s.minuteCount++
	s.dailyCostUSD += costUSD
	return nil
}

// CreditsRemaining returns the owner's current monthly balance after rolling
// windows forward.
func (l *MemoryLedger) CreditsRemaining(ownerID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := l.stateFor(ownerID, now)
	l.roll(s, now)
	return s.creditsRemaining
}

// Windows are UTC-based so every instance agrees on boundaries.

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
