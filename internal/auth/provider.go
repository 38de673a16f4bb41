package auth

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when the identity service URL or public key
// is missing.
var ErrNotConfigured = errors.New("identity service not configured")

// SignInOptions describes one redirect-based sign-in.
type SignInOptions struct {
	Provider   string
	RedirectTo string
	Scopes     string
}

// Subscription is a registered session listener.
type Subscription interface {
	Unsubscribe()
}

// Provider is the identity capability the rest of the client depends on.
//
// Subscribe delivers the current session to the new listener, then every
// later change, in publish order. SignIn returns once the handshake has been
// started; its outcome is only observable through subscriptions. SignOut
// always clears the local session and notifies listeners with nil.
type Provider interface {
	CurrentSession(ctx context.Context) (*Session, error)
	Subscribe(fn func(*Session)) Subscription
	SignIn(ctx context.Context, opts SignInOptions) error
	SignOut(ctx context.Context) error
}
