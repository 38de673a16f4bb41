// Package coordinator runs the user's login, logout, import and search
// intents and owns the state the views render.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pders01/stashsave/internal/auth"
	"github.com/pders01/stashsave/internal/backend"
	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/debuglog"
	"github.com/pders01/stashsave/internal/storage"
)

var (
	ErrBusy            = errors.New("another import or search is running")
	ErrNoSession       = errors.New("login required")
	ErrNoProviderToken = errors.New("session has no provider token")
	ErrEmptyQuery      = errors.New("empty search query")
)

// Sessions is the read side of the session store.
type Sessions interface {
	Current() *auth.Session
}

// Backend is the import and search API.
type Backend interface {
	Ingest(ctx context.Context, userID, accessToken string) (*backend.IngestResult, error)
	Search(ctx context.Context, q backend.SearchQuery) (*backend.SearchResponse, error)
}

// History records finished imports and searches. Optional.
type History interface {
	RecordQuery(rec storage.QueryRecord) error
	PruneHistory(userID string, keep int) error
	SaveImport(rec storage.ImportRecord) error
}

type Options struct {
	Provider    string
	Scopes      string
	RedirectTo  string
	HistorySize int
}

// OptionsFromConfig maps the auth and search settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Provider:    cfg.Auth.Provider,
		Scopes:      cfg.Auth.Scopes,
		RedirectTo:  cfg.Auth.RedirectURL,
		HistorySize: cfg.Search.HistorySize,
	}
}

// State is a snapshot of what the views render.
type State struct {
	Busy    bool
	Import  OperationStatus
	Search  OperationStatus
	Results []backend.SearchResult
}

type Coordinator struct {
	provider auth.Provider
	sessions Sessions
	api      Backend
	history  History
	opts     Options
	log      *debuglog.FieldLogger

	mu      sync.Mutex
	state   State
	epoch   uint64
	changes chan struct{}
}

// New builds a coordinator. A nil provider means the identity service is not
// configured; history may be nil.
func New(provider auth.Provider, sessions Sessions, api Backend, history History, opts Options) *Coordinator {
	if opts.Provider == "" {
		opts.Provider = "github"
	}
	if opts.Scopes == "" {
		opts.Scopes = config.DefaultScopes
	}
	return &Coordinator{
		provider: provider,
		sessions: sessions,
		api:      api,
		history:  history,
		opts:     opts,
		log:      debuglog.WithFields(map[string]interface{}{"component": "coordinator"}),
		changes:  make(chan struct{}, 1),
	}
}

// ClampTopK forces k into the accepted result count range.
func ClampTopK(k int) int {
	if k < config.MinTopK {
		return config.MinTopK
	}
	if k > config.MaxTopK {
		return config.MaxTopK
	}
	return k
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if c.state.Results != nil {
		st.Results = append([]backend.SearchResult(nil), c.state.Results...)
	}
	return st
}

// Changes signals after every state change. Signals coalesce.
func (c *Coordinator) Changes() <-chan struct{} {
	return c.changes
}

func (c *Coordinator) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// mutate applies fn and signals listeners.
func (c *Coordinator) mutate(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
	c.notify()
}

// mutateIf applies fn only while no logout happened since epoch.
func (c *Coordinator) mutateIf(epoch uint64, fn func(*State)) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	fn(&c.state)
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) release() {
	c.mutate(func(st *State) { st.Busy = false })
}

// Login starts the sign-in handshake. The session itself arrives through
// the session store.
func (c *Coordinator) Login(ctx context.Context) error {
	if c.provider == nil {
		return auth.ErrNotConfigured
	}

	c.mutate(func(st *State) {
		st.Import.Message = ""
		st.Search.Message = ""
	})

	err := c.provider.SignIn(ctx, auth.SignInOptions{
		Provider:   c.opts.Provider,
		RedirectTo: c.opts.RedirectTo,
		Scopes:     c.opts.Scopes,
	})
	if err != nil {
		c.log.Errorf("sign-in: %v", err)
		c.mutate(func(st *State) {
			st.Import.Message = MsgLoginFailed
			st.Import.Kind = KindError
		})
		return fmt.Errorf("starting sign-in: %w", err)
	}
	return nil
}

// Logout signs out and clears results and messages whatever the outcome.
// The returned error only reports a failed remote revocation.
func (c *Coordinator) Logout(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sign-out panicked: %v", r)
		}
		c.mu.Lock()
		c.epoch++
		c.state.Results = nil
		c.state.Import = OperationStatus{}
		c.state.Search = OperationStatus{}
		c.mu.Unlock()
		c.notify()
	}()

	if c.provider == nil {
		return nil
	}
	if signOutErr := c.provider.SignOut(ctx); signOutErr != nil {
		c.log.Warnf("sign-out: %v", signOutErr)
		return fmt.Errorf("signing out: %w", signOutErr)
	}
	return nil
}

// begin marks the coordinator busy after the precondition check passes.
// check runs under the lock and returns a non-nil error to abort.
func (c *Coordinator) begin(check func(*State) error) (uint64, error) {
	c.mu.Lock()
	if c.state.Busy {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	if err := check(&c.state); err != nil {
		c.mu.Unlock()
		c.notify()
		return 0, err
	}
	c.state.Busy = true
	epoch := c.epoch
	c.mu.Unlock()
	c.notify()
	return epoch, nil
}

// Import asks the backend to ingest the user's starred repositories.
func (c *Coordinator) Import(ctx context.Context) (err error) {
	s := c.sessions.Current()

	epoch, err := c.begin(func(st *State) error {
		st.Import = OperationStatus{}
		switch {
		case s.UserID() == "":
			st.Import = OperationStatus{Message: MsgLoginRequired, Kind: KindWarn}
			return ErrNoSession
		case !s.HasProviderToken():
			st.Import = OperationStatus{Message: MsgMissingProviderToken, Kind: KindWarn}
			return ErrNoProviderToken
		}
		st.Import.Stage = StageImporting
		return nil
	})
	if err != nil {
		return err
	}

	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("import panicked: %v", r)
			err = fmt.Errorf("import panicked: %v", r)
			c.mutateIf(epoch, func(st *State) {
				st.Import = OperationStatus{Stage: StageFailed, Message: err.Error(), Kind: KindError}
			})
		}
	}()

	// In-flight requests run to completion
	ctx = context.WithoutCancel(ctx)

	res, err := c.api.Ingest(ctx, s.UserID(), s.ProviderToken)
	if err != nil {
		msg := errorMessage(err, MsgImportFailed)
		c.log.Warnf("import for %s failed: %v", s.UserID(), err)
		c.mutateIf(epoch, func(st *State) {
			st.Import = OperationStatus{Stage: StageFailed, Message: msg, Kind: KindError}
		})
		return fmt.Errorf("import: %w", err)
	}

	c.mutateIf(epoch, func(st *State) {
		st.Import.Stage = StageGenerating
	})
	c.mutateIf(epoch, func(st *State) {
		st.Import = OperationStatus{Stage: StageComplete, Message: MsgImported(res.Ingested), Kind: KindSuccess}
	})

	if c.history != nil {
		if herr := c.history.SaveImport(storage.ImportRecord{UserID: s.UserID(), Ingested: res.Ingested}); herr != nil {
			c.log.Warnf("recording import: %v", herr)
		}
	}
	return nil
}

// Search runs a query with topK clamped to the accepted range.
func (c *Coordinator) Search(ctx context.Context, query string, topK int) (err error) {
	s := c.sessions.Current()
	query = strings.TrimSpace(query)
	topK = ClampTopK(topK)

	epoch, err := c.begin(func(st *State) error {
		st.Search = OperationStatus{}
		st.Results = nil
		switch {
		case s.UserID() == "":
			st.Search = OperationStatus{Message: MsgLoginRequired, Kind: KindWarn}
			return ErrNoSession
		case query == "":
			st.Search = OperationStatus{Message: MsgEnterQuery, Kind: KindWarn}
			return ErrEmptyQuery
		}
		return nil
	})
	if err != nil {
		return err
	}

	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("search panicked: %v", r)
			err = fmt.Errorf("search panicked: %v", r)
			c.mutateIf(epoch, func(st *State) {
				st.Search = OperationStatus{Message: err.Error(), Kind: KindError}
				st.Results = nil
			})
		}
	}()

	ctx = context.WithoutCancel(ctx)

	res, err := c.api.Search(ctx, backend.SearchQuery{Query: query, UserID: s.UserID(), TopK: topK})
	if err != nil {
		msg := errorMessage(err, MsgSearchFailed)
		c.log.Warnf("search %q failed: %v", query, err)
		c.mutateIf(epoch, func(st *State) {
			st.Search = OperationStatus{Message: msg, Kind: KindError}
		})
		return fmt.Errorf("search: %w", err)
	}

	results := append([]backend.SearchResult{}, res.Results...)
	c.mutateIf(epoch, func(st *State) {
		st.Results = results
		if len(results) == 0 {
			st.Search = OperationStatus{Message: MsgNoMatches, Kind: KindInfo}
		}
	})

	c.recordQuery(s.UserID(), query, topK, len(results))
	return nil
}

func (c *Coordinator) recordQuery(userID, query string, topK, n int) {
	if c.history == nil {
		return
	}
	if err := c.history.RecordQuery(storage.QueryRecord{UserID: userID, Query: query, TopK: topK, Results: n}); err != nil {
		c.log.Warnf("recording query: %v", err)
		return
	}
	if c.opts.HistorySize > 0 {
		if err := c.history.PruneHistory(userID, c.opts.HistorySize); err != nil {
			c.log.Warnf("pruning history: %v", err)
		}
	}
}

// errorMessage prefers the backend's detail, then fallback for detail-less
// HTTP errors, then the error text itself.
func errorMessage(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message(fallback)
	}
	return err.Error()
}
