package guardrail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencecrm/backlog/pkg/core"
)

// fakeClock is a manually-advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// recordingWriter captures appended usage records.
type recordingWriter struct {
	records []*core.UsageRecord
}

func (w *recordingWriter) AppendUsage(_ context.Context, rec *core.UsageRecord) error {
	w.records = append(w.records, rec)
	return nil
}

func testLimits() Limits {
	return Limits{
		PerMinute:      3,
		DailyCostUSD:   1.00,
		MonthlyCredits: 10,
	}
}

func newTestGuard(limits Limits) (*Guard, *MemoryLedger, *recordingWriter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 10, 12, 0, 30, 0, time.UTC)}
	ledger := NewMemoryLedger(limits)
	ledger.SetClock(clock.Now)
	writer := &recordingWriter{}
	return New(ledger, writer), ledger, writer, clock
}

func okCall(cost float64) Call {
	return func(context.Context) (CallResult, error) {
		return CallResult{
			Data:        "summary",
			Model:       "extract-v2",
			InputUnits:  100,
			OutputUnits: 20,
			CostUSD:     cost,
		}, nil
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Happy path
// ──────────────────────────────────────────────────────────────────────────────

func TestDo_ExecutesCallAndReturnsCredits(t *testing.T) {
	g, _, writer, _ := newTestGuard(testLimits())

	res, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	require.NoError(t, err)
	assert.Equal(t, "summary", res.Data)
	assert.Equal(t, int64(9), res.CreditsLeft)

	require.Len(t, writer.records, 1)
	rec := writer.records[0]
	assert.Equal(t, "tenant-1", rec.OwnerID)
	assert.Equal(t, "extract-v2", rec.Model)
	assert.Equal(t, 100, rec.InputUnits)
	assert.Equal(t, 0.01, rec.CostUSD)
}

func TestDoWeighted_DebitsWeightedCredits(t *testing.T) {
	g, ledger, _, _ := newTestGuard(testLimits())

	res, err := g.DoWeighted(context.Background(), "tenant-1", 4, okCall(0.01))
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.CreditsLeft)
	assert.Equal(t, int64(6), ledger.CreditsRemaining("tenant-1"))
}

func TestDo_OwnersAreIndependent(t *testing.T) {
	g, _, _, _ := newTestGuard(testLimits())

	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
		require.NoError(t, err)
	}
	_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	require.Error(t, err, "tenant-1 minute window exhausted")

	_, err = g.Do(context.Background(), "tenant-2", okCall(0.01))
	assert.NoError(t, err, "tenant-2 unaffected")
}

// ──────────────────────────────────────────────────────────────────────────────
// Minute window
// ──────────────────────────────────────────────────────────────────────────────

func TestDo_MinuteLimitRejectsWithoutExecuting(t *testing.T) {
	g, _, _, _ := newTestGuard(testLimits())

	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
		require.NoError(t, err)
	}

	calls := 0
	_, err := g.Do(context.Background(), "tenant-1", func(context.Context) (CallResult, error) {
		calls++
		return CallResult{}, nil
	})

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ScopeMinute, limitErr.Scope)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
	assert.Zero(t, calls, "rejected call must never execute")
}

func TestDo_MinuteWindowRolls(t *testing.T) {
	g, _, _, clock := newTestGuard(testLimits())

	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
		require.NoError(t, err)
	}
	_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	require.Error(t, err)

	clock.Advance(time.Minute)
	_, err = g.Do(context.Background(), "tenant-1", okCall(0.01))
	assert.NoError(t, err, "fresh minute window admits calls again")
}

// ──────────────────────────────────────────────────────────────────────────────
// Daily cost window
// ──────────────────────────────────────────────────────────────────────────────

func TestDo_DailyCostCapRejects(t *testing.T) {
	g, _, _, clock := newTestGuard(testLimits())

	// Two calls at $0.50 hit the $1.00 cap; spread over minutes so the
	// minute window stays out of the way.
	for i := 0; i < 2; i++ {
		_, err := g.Do(context.Background(), "tenant-1", okCall(0.50))
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	calls := 0
	_, err := g.Do(context.Background(), "tenant-1", func(context.Context) (CallResult, error) {
		calls++
		return CallResult{}, nil
	})

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ScopeDailyCost, limitErr.Scope)
	assert.Zero(t, calls)
}

func TestDo_DailyWindowRollsAtMidnightUTC(t *testing.T) {
	g, _, _, clock := newTestGuard(testLimits())

	for i := 0; i < 2; i++ {
		_, err := g.Do(context.Background(), "tenant-1", okCall(0.50))
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	require.Error(t, err)

	clock.Advance(24 * time.Hour)
	_, err = g.Do(context.Background(), "tenant-1", okCall(0.01))
	assert.NoError(t, err, "fresh day resets the cost window")
}

// ──────────────────────────────────────────────────────────────────────────────
// Monthly credits
// ──────────────────────────────────────────────────────────────────────────────

func TestDo_ZeroCreditsNeverExecutesCall(t *testing.T) {
	g, _, _, _ := newTestGuard(Limits{
		PerMinute:      100,
		DailyCostUSD:   100,
		MonthlyCredits: 0,
	})

	calls := 0
	_, err := g.Do(context.Background(), "tenant-1", func(context.Context) (CallResult, error) {
		calls++
		return CallResult{}, nil
	})

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ScopeMonthly, limitErr.Scope)
	assert.Zero(t, calls, "call must never run with an empty balance")
}

func TestDo_CreditsExhaustThenReject(t *testing.T) {
	g, _, _, clock := newTestGuard(Limits{
		PerMinute:      100,
		DailyCostUSD:   100,
		MonthlyCredits: 2,
	})

	for i := 0; i < 2; i++ {
		_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ScopeMonthly, limitErr.Scope)
}

func TestDo_WeightedDebitLargerThanBalanceRejectsWithoutPartialSpend(t *testing.T) {
	g, ledger, _, _ := newTestGuard(Limits{
		PerMinute:      100,
		DailyCostUSD:   100,
		MonthlyCredits: 3,
	})

	_, err := g.DoWeighted(context.Background(), "tenant-1", 5, okCall(0.01))
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ScopeMonthly, limitErr.Scope)
	assert.Equal(t, int64(3), ledger.CreditsRemaining("tenant-1"), "no partial debit")
}

func TestDo_MonthlyCreditsResetAtMonthBoundary(t *testing.T) {
	g, ledger, _, clock := newTestGuard(Limits{
		PerMinute:      100,
		DailyCostUSD:   100,
		MonthlyCredits: 1,
	})

	_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	require.NoError(t, err)
	_, err = g.Do(context.Background(), "tenant-1", okCall(0.01))
	require.Error(t, err)

	clock.Advance(31 * 24 * time.Hour) // into September
	assert.Equal(t, int64(1), ledger.CreditsRemaining("tenant-1"))
	_, err = g.Do(context.Background(), "tenant-1", okCall(0.01))
	assert.NoError(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Failure policy
// ──────────────────────────────────────────────────────────────────────────────

func TestDo_CallFailurePropagatesAndKeepsCreditSpent(t *testing.T) {
	g, ledger, writer, _ := newTestGuard(testLimits())

	boom := errors.New("upstream 500")
	_, err := g.Do(context.Background(), "tenant-1", func(context.Context) (CallResult, error) {
		return CallResult{}, boom
	})

	assert.ErrorIs(t, err, boom, "call failure propagates unchanged")
	var limitErr *LimitError
	assert.False(t, errors.As(err, &limitErr), "not surfaced as a guard error")

	// Reserved credit is not refunded.
	assert.Equal(t, int64(9), ledger.CreditsRemaining("tenant-1"))
	assert.Empty(t, writer.records, "no usage record for a failed call")
}

func TestDo_FailedCallDoesNotCountInMinuteWindow(t *testing.T) {
	g, _, _, _ := newTestGuard(testLimits())

	boom := errors.New("flaky")
	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), "tenant-1", func(context.Context) (CallResult, error) {
			return CallResult{}, boom
		})
		require.ErrorIs(t, err, boom)
	}

	// The minute count only tracks committed calls, so successes still fit.
	_, err := g.Do(context.Background(), "tenant-1", okCall(0.01))
	assert.NoError(t, err)
}
