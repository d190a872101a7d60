// Package auth holds the authentication state a listing call may need:
// saved tokens, JWT expiry checks and the per-fetch interactive scope that
// decides whether a backend is allowed to prompt the user for credentials.
package auth

import (
	"context"
	"sync/atomic"
)

type contextKey string

const grantKey contextKey = "interactive_grant"

// grant marks one fetch as allowed to prompt. It is released when the fetch
// returns so a straggling goroutine cannot prompt afterwards.
type grant struct {
	released atomic.Bool
}

// Scope enters and exits interactive mode around a single listing call.
// A zero Scope never grants prompting.
type Scope struct {
	Interactive bool
}

// Enter returns a context that permits prompting (when the scope is
// interactive) and the func that exits the scope again. The release func is
// safe to call more than once.
func (s Scope) Enter(ctx context.Context) (context.Context, func()) {
	if !s.Interactive {
		return ctx, func() {}
	}
	g := &grant{}
	return context.WithValue(ctx, grantKey, g), func() { g.released.Store(true) }
}

// Interactive reports whether ctx belongs to a fetch that may prompt.
func Interactive(ctx context.Context) bool {
	g, ok := ctx.Value(grantKey).(*grant)
	return ok && !g.released.Load()
}
