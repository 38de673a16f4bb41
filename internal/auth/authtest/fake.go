// Package authtest provides an in-memory auth.Provider for tests.
package authtest

import (
	"context"
	"sync"

	"github.com/pders01/stashsave/internal/auth"
)

type fakeSub struct {
	f  *Fake
	id int
}

func (s *fakeSub) Unsubscribe() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.listeners, s.id)
}

// Fake delivers notifications synchronously on the caller's goroutine.
// Hooks, when set, replace the default behaviour of each method.
type Fake struct {
	mu        sync.Mutex
	session   *auth.Session
	listeners map[int]func(*auth.Session)
	nextID    int

	SignInCalls  []auth.SignInOptions
	SignOutCalls int

	CurrentHook func(ctx context.Context) (*auth.Session, error)
	SignInHook  func(ctx context.Context, opts auth.SignInOptions) error
	SignOutErr  error
	// SkipInitial suppresses the delivery to new subscribers.
	SkipInitial bool
}

func NewFake(initial *auth.Session) *Fake {
	return &Fake{session: initial.Clone(), listeners: make(map[int]func(*auth.Session))}
}

func (f *Fake) CurrentSession(ctx context.Context) (*auth.Session, error) {
	f.mu.Lock()
	hook := f.CurrentHook
	s := f.session.Clone()
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return s, nil
}

func (f *Fake) Subscribe(fn func(*auth.Session)) auth.Subscription {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	s := f.session.Clone()
	skip := f.SkipInitial
	f.mu.Unlock()

	if !skip {
		fn(s)
	}
	return &fakeSub{f: f, id: id}
}

func (f *Fake) SignIn(ctx context.Context, opts auth.SignInOptions) error {
	f.mu.Lock()
	f.SignInCalls = append(f.SignInCalls, opts)
	hook := f.SignInHook
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, opts)
	}
	return nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.SignOutCalls++
	err := f.SignOutErr
	f.mu.Unlock()
	f.Emit(nil)
	return err
}

// Emit sets the session and notifies every listener.
func (f *Fake) Emit(s *auth.Session) {
	f.mu.Lock()
	f.session = s.Clone()
	fns := make([]func(*auth.Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(s.Clone())
	}
}

// Listeners reports the number of active subscriptions.
func (f *Fake) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Calls returns copies of the recorded call counters.
func (f *Fake) Calls() (signIns []auth.SignInOptions, signOuts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.SignInOptions(nil), f.SignInCalls...), f.SignOutCalls
}

// Session builds a signed-in session for tests.
func Session(userID, providerToken string) *auth.Session {
	return &auth.Session{
		AccessToken:   "access-" + userID,
		RefreshToken:  "refresh-" + userID,
		ProviderToken: providerToken,
		User: auth.User{
			ID:           userID,
			UserMetadata: auth.UserMetadata{UserName: "octocat"},
		},
	}
}
