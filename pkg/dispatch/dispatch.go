// Package dispatch routes jobs to their registered handlers by kind.
//
// The registry is pure routing: it performs no business logic and holds no
// state beyond the kind -> handler map, so new job kinds can be added without
// touching the runner.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cadencecrm/backlog/pkg/core"
	"github.com/cadencecrm/backlog/pkg/security"
)

// Handler executes the business logic for one job kind.
//
// A nil return marks the job succeeded. Errors are retryable by default;
// wrap with core.NoRetry to fail the job permanently. Handlers are free to
// call the rate limiter or usage guardrail internally but must not bypass
// them for protected external calls.
type Handler func(ctx context.Context, job *core.Job) error

// Registry maps job kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a kind. Invalid kind names and duplicate
// registrations are programming errors and panic, so misconfiguration
// surfaces at startup rather than at dispatch time.
func (r *Registry) Register(kind string, h Handler) {
	if err := security.ValidateKindName(kind); err != nil {
		panic(fmt.Sprintf("backlog: invalid handler kind %q: %v", kind, err))
	}
	if h == nil {
		panic(fmt.Sprintf("backlog: nil handler for kind %q", kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("backlog: duplicate handler for kind %q", kind))
	}
	r.handlers[kind] = h
}

// Has reports whether a handler is registered for kind.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Dispatch looks up the handler for the job's kind and invokes it. An
// unknown kind is a permanent failure: retrying cannot make a handler appear.
func (r *Registry) Dispatch(ctx context.Context, job *core.Job) error {
	r.mu.RLock()
	h, ok := r.handlers[job.Kind]
	r.mu.RUnlock()

	if !ok {
		return core.NoRetry(fmt.Errorf("%w: %q", core.ErrUnknownKind, job.Kind))
	}
	return h(ctx, job)
}
