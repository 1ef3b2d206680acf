// Package guardrail enforces per-minute, daily-cost, and monthly-credit
// limits on paid external calls (AI inference, enrichment APIs).
//
// The check is a reservation, not a post-hoc tally: a call only executes
// after all three windows permit it and the monthly credit has been debited.
// Credits reserved for a call that then fails are not refunded: a failed
// call may still have consumed upstream quota, and refunding would let a
// flapping integration spend the same credit repeatedly.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencecrm/backlog/pkg/core"
)

// Scope identifies which window rejected a guarded call.
type Scope string

const (
	ScopeMinute    Scope = "minute"
	ScopeDailyCost Scope = "daily_cost"
	ScopeMonthly   Scope = "monthly"
)

// LimitError reports which guard window rejected the call and when it is
// worth retrying.
type LimitError struct {
	Scope      Scope
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("guardrail: %s limit reached, retry after %v", e.Scope, e.RetryAfter)
}

// Limits holds the per-owner spend limits.
type Limits struct {
	PerMinute      int
	DailyCostUSD   float64
	MonthlyCredits int64
}

// DefaultLimits returns conservative per-owner limits.
func DefaultLimits() Limits {
	return Limits{
		PerMinute:      10,
		DailyCostUSD:   5,
		MonthlyCredits: 500,
	}
}

// CallResult is what a guarded call reports back on success.
type CallResult struct {
	Data        any
	Model       string
	InputUnits  int
	OutputUnits int
	CostUSD     float64
}

// Call is a paid external call wrapped by the guardrail.
type Call func(ctx context.Context) (CallResult, error)

// Result is returned to the caller after a successful guarded call.
type Result struct {
	Data        any
	CreditsLeft int64
}

// Ledger is the window accounting behind the guard. The default is the
// process-local MemoryLedger; redisledger provides a shared-counter
// implementation for multi-instance deployments.
type Ledger interface {
	// Reserve checks all three windows and atomically debits credits.
	// It returns the remaining monthly credits, or a *LimitError.
	Reserve(ctx context.Context, ownerID string, credits int64) (remaining int64, err error)

	// Commit records a completed spend: one minute-window call and its cost.
	Commit(ctx context.Context, ownerID string, costUSD float64) error
}

// Guard wraps paid calls with window enforcement and usage auditing.
type Guard struct {
	ledger Ledger
	usage  core.UsageWriter
	logger *slog.Logger
}

// Option configures a Guard.
type Option interface {
	ApplyGuard(*Guard)
}

type optionFunc func(*Guard)

func (f optionFunc) ApplyGuard(g *Guard) { f(g) }

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	})
}

// New creates a guard over the given ledger. The usage writer receives an
// audit record after every successful guarded call; pass nil to disable
// auditing (tests only).
func New(ledger Ledger, usage core.UsageWriter, opts ...Option) *Guard {
	g := &Guard{
		ledger: ledger,
		usage:  usage,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyGuard(g)
	}
	return g
}

// Do executes call under the owner's guardrails at a weight of one credit.
func (g *Guard) Do(ctx context.Context, ownerID string, call Call) (*Result, error) {
	return g.DoWeighted(ctx, ownerID, 1, call)
}

// DoWeighted executes call under the owner's guardrails, debiting the given
// number of monthly credits. The call never runs if any window rejects it.
// A failure of the call itself propagates unchanged and does not refund the
// reserved credits.
func (g *Guard) DoWeighted(ctx context.Context, ownerID string, credits int64, call Call) (*Result, error) {
	if credits <= 0 {
		credits = 1
	}

	remaining, err := g.ledger.Reserve(ctx, ownerID, credits)
	if err != nil {
		return nil, err
	}

	res, callErr := call(ctx)
	if callErr != nil {
		return nil, callErr
	}

	if err := g.ledger.Commit(ctx, ownerID, res.CostUSD); err != nil {
		// The call already succeeded; an accounting hiccup must not turn it
		// into a caller-visible failure.
		g.logger.Error("guardrail commit failed", "owner_id", ownerID, "error", err)
	}

	if g.usage != nil {
		rec := &core.UsageRecord{
			OwnerID:     ownerID,
			Model:       res.Model,
			InputUnits:  res.InputUnits,
			OutputUnits: res.OutputUnits,
			CostUSD:     res.CostUSD,
		}
		if err := g.usage.AppendUsage(ctx, rec); err != nil {
			g.logger.Error("failed to append usage record", "owner_id", ownerID, "error", err)
		}
	}

	return &Result{Data: res.Data, CreditsLeft: remaining}, nil
}
