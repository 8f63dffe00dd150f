// Package accessgate guards views behind the signed-in identity and its
// stored role. Protected content must not be shown while a gate is still
// checking, and a rejected caller is pointed at the view appropriate for
// whoever they actually are.
package accessgate

import (
	"context"
	"log"
	"sync"

	"schoolportal/internal/roster"
)

// Redirect destinations. Unauthenticated callers land on the sign-in view;
// a role mismatch sends the caller to their own default dashboard.
const (
	LandingPath     = "/"
	TeacherHomePath = "/teacher-dashboard"
	StudentHomePath = "/dashboard"
)

// DefaultPath returns the default view for a role.
func DefaultPath(role roster.Role) string {
	if role == roster.RoleTeacher {
		return TeacherHomePath
	}
	return StudentHomePath
}

// State is the gate's view-admission state.
type State int

const (
	// StateChecking means the identity/role lookup is still in flight;
	// protected content must not render.
	StateChecking State = iota
	// StateAuthorized admits the current identity to the view.
	StateAuthorized
	// StateRedirecting rejects the current identity; Redirect() names the
	// destination.
	StateRedirecting
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAuthorized:
		return "authorized"
	case StateRedirecting:
		return "redirecting"
	}
	return "unknown"
}

// Identity is one element of the signed-in identity stream. A nil *Identity
// on the stream means signed out.
type Identity struct {
	AccountID string
}

// RoleLookup resolves the stored role attribute for an account.
type RoleLookup func(ctx context.Context, accountID string) (roster.Role, error)

// Gate tracks admission for one view against an unbounded stream of identity
// changes. Every sign-in or sign-out puts the gate back into StateChecking
// until the role lookup settles.
type Gate struct {
	required roster.Role // empty means any signed-in identity is admitted
	lookup   RoleLookup

	mu       sync.Mutex
	state    State
	redirect string
}

// New creates a gate. An empty required role admits any signed-in identity.
func New(required roster.Role, lookup RoleLookup) *Gate {
	return &Gate{required: required, lookup: lookup, state: StateChecking}
}

// State returns the current admission state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Allowed reports whether protected content may render right now.
func (g *Gate) Allowed() bool {
	return g.State() == StateAuthorized
}

// Redirect returns the destination while in StateRedirecting, else "".
func (g *Gate) Redirect() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRedirecting {
		return ""
	}
	return g.redirect
}

// Watch consumes the identity stream until it closes or ctx is done,
// re-resolving the gate on every change.
func (g *Gate) Watch(ctx context.Context, identities <-chan *Identity) {
	for {
		select {
		case id, ok := <-identities:
			if !ok {
				return
			}
			g.Resolve(ctx, id)
		case <-ctx.Done():
			return
		}
	}
}

// Resolve applies one identity observation to the gate. A nil identity
// redirects to the landing view. A failed role lookup decodes to student
// rather than blocking or granting access.
func (g *Gate) Resolve(ctx context.Context, id *Identity) {
	g.set(StateChecking, "")

	if id == nil {
		g.set(StateRedirecting, LandingPath)
		return
	}

	role := roster.RoleStudent
	if g.lookup != nil {
		r, err := g.lookup(ctx, id.AccountID)
		if err != nil {
			log.Printf("accessgate: role lookup for %s failed: %v", id.AccountID, err)
		} else {
			role = r
		}
	}

	if g.required == "" || role == g.required {
		g.set(StateAuthorized, "")
		return
	}
	g.set(StateRedirecting, DefaultPath(role))
}

func (g *Gate) set(state State, redirect string) {
	g.mu.Lock()
	g.state = state
	g.redirect = redirect
	g.mu.Unlock()
}
