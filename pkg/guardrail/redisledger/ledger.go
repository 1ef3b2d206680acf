// Package redisledger provides a Redis-backed guardrail ledger.
//
// It is intended for deployments running more than one runner instance:
// window counters live in Redis, so every instance debits the same
// balances. Single-instance deployments should keep the in-memory ledger.
//
// Windows are expressed as time-bucketed keys with TTLs rather than stored
// boundaries: the minute, day, and month encode themselves into the key, so
// rolling a window is just the old key expiring.
package redisledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadencecrm/backlog/pkg/guardrail"
)

// Ledger implements guardrail.Ledger on Redis.
type Ledger struct {
	client *redis.Client
	limits guardrail.Limits
	prefix string
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPrefix namespaces the ledger keys (default "guardrail").
func WithPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Redis-backed ledger.
func New(client *redis.Client, limits guardrail.Limits, opts ...Option) *Ledger {
	l := &Ledger{
		client: client,
		limits: limits,
		prefix: "guardrail",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) minuteKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("%s:min:%s:%s", l.prefix, ownerID, now.UTC().Format("200601021504"))
}

func (l *Ledger) dayKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("%s:day:%s:%s", l.prefix, ownerID, now.UTC().Format("20060102"))
}

func (l *Ledger) monthKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("%s:mon:%s:%s", l.prefix, ownerID, now.UTC().Format("200601"))
}

// Reserve checks the minute and daily-cost windows, then debits the monthly
// credit balance. The debit is DECRBY with a compensating INCRBY when the
// balance would go negative, so concurrent reservations cannot overspend.
func (l *Ledger) Reserve(ctx context.Context, ownerID string, credits int64) (int64, error) {
	now := l.now()

	minuteCount, err := l.client.Get(ctx, l.minuteKey(ownerID, now)).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redisledger: minute window: %w", err)
	}
	if minuteCount >= int64(l.limits.PerMinute) {
		return 0, &guardrail.LimitError{
			Scope:      guardrail.ScopeMinute,
			RetryAfter: now.Truncate(time.Minute).Add(time.Minute).Sub(now),
		}
	}

	dailyCost, err := l.client.Get(ctx, l.dayKey(ownerID, now)).Float64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redisledger: daily window: %w", err)
	}
	if dailyCost >= l.limits.DailyCostUSD {
		return 0, &guardrail.LimitError{
			Scope:      guardrail.ScopeDailyCost,
			RetryAfter: startOfDay(now).AddDate(0, 0, 1).Sub(now),
		}
	}

	monthKey := l.monthKey(ownerID, now)
	if err := l.client.SetNX(ctx, monthKey, l.limits.MonthlyCredits, monthTTL(now)).Err(); err != nil {
		return 0, fmt.Errorf("redisledger: init monthly balance: %w", err)
	}

	remaining, err := l.client.DecrBy(ctx, monthKey, credits).Result()
	if err != nil {
		return 0, fmt.Errorf("redisledger: debit monthly balance: %w", err)
	}
	if remaining < 0 {
		if err := l.client.IncrBy(ctx, monthKey, credits).Err(); err != nil {
			return 0, fmt.Errorf("redisledger: refund overdraft: %w", err)
		}
		return 0, &guardrail.LimitError{
			Scope:      guardrail.ScopeMonthly,
			RetryAfter: startOfMonth(now).AddDate(0, 1, 0).Sub(now),
		}
	}
	return remaining, nil
}

// Commit records a completed call in the minute and daily-cost windows.
// TTLs outlive the window by a margin so slow readers still see the bucket.
func (l *Ledger) Commit(ctx context.Context, ownerID string, costUSD float64) error {
	now := l.now()

	pipe := l.client.TxPipeline()
	minuteKey := l.minuteKey(ownerID, now)
	pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, 2*time.Minute)

	dayKey := l.dayKey(ownerID, now)
	pipe.IncrByFloat(ctx, dayKey, costUSD)
	pipe.Expire(ctx, dayKey, 48*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisledger: commit: %w", err)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthTTL(now time.Time) time.Duration {
	// Key survives a few days past month end for late audits.
	return startOfMonth(now).AddDate(0, 1, 3).Sub(now)
}
