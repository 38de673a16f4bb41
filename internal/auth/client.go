package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/pders01/stashsave/internal/browser"
	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/debuglog"
	"github.com/pders01/stashsave/internal/storage"
	"github.com/pders01/stashsave/internal/validation"
)

var errNoRefreshToken = errors.New("no session to refresh")

// SessionStore persists the serialized session between runs.
type SessionStore interface {
	LoadSession(key string) ([]byte, error)
	SaveSession(key string, data []byte) error
	DeleteSession(key string) error
}

// APIError is a non-2xx answer from the identity service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("identity service: %s (%d %s)", msg, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("identity service: %s (%d)", msg, e.StatusCode)
}

type pendingAttempt struct {
	verifier  string
	startedAt time.Time
	answered  atomic.Bool
}

// Client is a Provider backed by a GoTrue compatible identity service using
// the PKCE flow. The OAuth redirect is received by a local callback server
// that is started on the first sign-in.
type Client struct {
	cfg        config.AuthConfig
	baseURL    string
	httpClient *http.Client
	store      SessionStore
	opener     browser.Opener
	broker     *Broker
	attempts   *cache.Cache
	refreshes  singleflight.Group
	log        *debuglog.FieldLogger
	now        func() time.Time

	mu      sync.RWMutex
	session *Session

	serverMu     sync.Mutex
	server       *http.Server
	listener     net.Listener
	callbackPath string

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewClient returns ErrNotConfigured when the identity service URL or anon
// key is missing. store and opener may be nil.
func NewClient(cfg config.AuthConfig, store SessionStore, opener browser.Opener) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.SignInTimeout <= 0 {
		cfg.SignInTimeout = 5 * time.Minute
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = config.DefaultStorageKey
	}
	if opener == nil {
		opener = browser.NewLauncher("")
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		store:      store,
		opener:     opener,
		broker:     NewBroker(),
		attempts:   cache.New(cfg.SignInTimeout, time.Minute),
		log:        debuglog.WithFields(map[string]interface{}{"component": "auth"}),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	c.attempts.OnEvicted(c.attemptEvicted)
	c.restore()

	if cfg.AutoRefresh && cfg.RefreshTick > 0 {
		c.wg.Add(1)
		go c.refreshLoop()
	}
	return c, nil
}

func (c *Client) restore() {
	if c.store == nil {
		return
	}
	data, err := c.store.LoadSession(c.cfg.StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warnf("loading stored session: %v", err)
		}
		return
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.AccessToken == "" {
		c.log.Warnf("discarding unreadable stored session")
		_ = c.store.DeleteSession(c.cfg.StorageKey)
		return
	}
	c.session = &s
	c.log.Debugf("restored session for user %s", s.UserID())
}

func (c *Client) snapshot() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Clone()
}

// setSession replaces the session, persists it and notifies listeners while
// holding the lock, so publish order matches write order.
func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSessionLocked(s)
}

func (c *Client) setSessionLocked(s *Session) {
	c.session = s.Clone()
	c.persist(s)
	c.broker.Publish(s)
}

func (c *Client) persist(s *Session) {
	if c.store == nil {
		return
	}
	if s == nil {
		if err := c.store.DeleteSession(c.cfg.StorageKey); err != nil {
			c.log.Warnf("deleting stored session: %v", err)
		}
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		c.log.Errorf("encoding session: %v", err)
		return
	}
	if err := c.store.SaveSession(c.cfg.StorageKey, data); err != nil {
		c.log.Warnf("saving session: %v", err)
	}
}

// CurrentSession returns the stored session, refreshing it first when the
// access token has already expired.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	s := c.snapshot()
	if s == nil {
		return nil, nil
	}
	exp := s.Expiry()
	if exp.IsZero() || exp.After(c.now()) || s.RefreshToken == "" {
		return s, nil
	}

	refreshed, err := c.Refresh(ctx)
	if err != nil {
		if c.snapshot() == nil {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) Subscribe(fn func(*Session)) Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub := c.broker.Subscribe(fn)
	c.broker.PublishTo(sub, c.session)
	return sub
}

// CallbackOrigin is the origin of the local redirect listener. Before the
// listener is started it is derived from the configured address.
func (c *Client) CallbackOrigin() string {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()
	if c.listener != nil {
		return "http://" + c.listener.Addr().String()
	}
	return "http://" + c.cfg.CallbackAddr
}

// SignIn opens the authorize URL in the browser. The session arrives later
// through the callback server.
func (c *Client) SignIn(ctx context.Context, opts SignInOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Provider == "" {
		opts.Provider = "github"
	}

	origin, err := c.ensureCallbackServer()
	if err != nil {
		return err
	}
	redirect := opts.RedirectTo
	if redirect == "" {
		redirect = origin
	} else if !validation.IsLoopbackURL(redirect) {
		c.log.Warnf("redirect target %s is not served by the local callback listener", redirect)
	}

	attemptID := uuid.NewString()
	redirectWithAttempt, err := withQuery(redirect, "attempt", attemptID)
	if err != nil {
		return fmt.Errorf("invalid redirect target: %w", err)
	}

	verifier := oauth2.GenerateVerifier()
	params := url.Values{}
	params.Set("provider", opts.Provider)
	params.Set("redirect_to", redirectWithAttempt)
	if opts.Scopes != "" {
		params.Set("scopes", opts.Scopes)
	}
	params.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	params.Set("code_challenge_method", "s256")
	authorizeURL := c.baseURL + "/auth/v1/authorize?" + params.Encode()

	c.attempts.Set(attemptID, &pendingAttempt{verifier: verifier, startedAt: c.now()}, cache.DefaultExpiration)
	c.log.Infof("starting %s sign-in attempt %s", opts.Provider, attemptID)

	if err := c.opener.Open(authorizeURL); err != nil {
		c.takeAttempt(attemptID)
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

func withQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) takeAttempt(id string) *pendingAttempt {
	v, ok := c.attempts.Get(id)
	if !ok {
		return nil
	}
	attempt := v.(*pendingAttempt)
	attempt.answered.Store(true)
	c.attempts.Delete(id)
	return attempt
}

func (c *Client) attemptEvicted(id string, v interface{}) {
	attempt, ok := v.(*pendingAttempt)
	if !ok || attempt.answered.Load() {
		return
	}
	c.log.Warnf("sign-in attempt %s expired after %s without a callback", id, c.now().Sub(attempt.startedAt).Round(time.Second))
}

func (c *Client) ensureCallbackServer() (string, error) {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()

	if c.listener != nil {
		return "http://" + c.listener.Addr().String(), nil
	}

	c.callbackPath = "/"
	if c.cfg.RedirectURL != "" {
		if u, err := url.Parse(c.cfg.RedirectURL); err == nil && u.Path != "" {
			c.callbackPath = u.Path
		}
	}

	ln, err := net.Listen("tcp", c.cfg.CallbackAddr)
	if err != nil {
		return "", fmt.Errorf("starting callback listener on %s: %w", c.cfg.CallbackAddr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get(c.callbackPath, c.handleCallback)

	c.listener = ln
	c.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	c.wg.Add(1)
	go func(srv *http.Server) {
		defer c.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Errorf("callback server: %v", err)
		}
	}(c.server)

	c.log.Debugf("callback server listening on %s%s", ln.Addr(), c.callbackPath)
	return "http://" + ln.Addr().String(), nil
}

func (c *Client) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	attemptID := q.Get("attempt")

	if errCode := q.Get("error"); errCode != "" {
		c.takeAttempt(attemptID)
		desc := q.Get("error_description")
		c.log.Warnf("sign-in attempt %s returned %s: %s", attemptID, errCode, desc)
		if desc == "" {
			desc = errCode
		}
		writeCallbackPage(w, http.StatusBadRequest, "Sign-in failed", desc)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeCallbackPage(w, http.StatusBadRequest, "Sign-in failed", "The redirect did not carry an authorization code.")
		return
	}

	attempt := c.takeAttempt(attemptID)
	if attempt == nil {
		c.log.Warnf("callback for unknown or expired sign-in attempt %q", attemptID)
		writeCallbackPage(w, http.StatusBadRequest, "Sign-in failed", "This sign-in attempt is unknown or has expired. Start again from the terminal.")
		return
	}

	s, err := c.exchange(r.Context(), code, attempt.verifier)
	if err != nil {
		c.log.Errorf("exchanging authorization code: %v", err)
		writeCallbackPage(w, http.StatusBadGateway, "Sign-in failed", "The identity service rejected the sign-in.")
		return
	}

	c.setSession(s)
	c.log.Infof("signed in as %s", s.UserID())
	writeCallbackPage(w, http.StatusOK, "Signed in", fmt.Sprintf("Connected as %s. You can close this window and return to the terminal.", s.DisplayName()))
}

func writeCallbackPage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!doctype html><html><head><title>stashsave: %s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(body))
}

func (c *Client) exchange(ctx context.Context, code, verifier string) (*Session, error) {
	var s Session
	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=pkce", body, "", &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" || s.User.ID == "" {
		return nil, fmt.Errorf("token response without session")
	}
	s.normalize(c.now())
	return &s, nil
}

// Refresh trades the refresh token for a new session. Concurrent callers
// share one request. A rejected refresh token signs the user out.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (interface{}, error) {
		current := c.snapshot()
		if current == nil || current.RefreshToken == "" {
			return nil, errNoRefreshToken
		}

		var next Session
		body := map[string]string{"refresh_token": current.RefreshToken}
		err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", body, "", &next)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				c.log.Warnf("refresh token rejected, signing out: %v", err)
				c.replaceSession(current, nil)
			}
			return nil, fmt.Errorf("refreshing session: %w", err)
		}

		// Provider tokens are only issued at sign-in
		if next.ProviderToken == "" {
			next.ProviderToken = current.ProviderToken
		}
		if next.ProviderRefreshToken == "" {
			next.ProviderRefreshToken = current.ProviderRefreshToken
		}
		next.User = mergeUser(current.User, next.User)
		next.normalize(c.now())

		c.replaceSession(current, &next)
		return next.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// mergeUser fills profile fields a refresh response left out from the
// previous user, so the display name survives token rotation.
func mergeUser(prev, next User) User {
	if next.ID == "" {
		return prev
	}
	if next.ID != prev.ID {
		return next
	}
	next.Email = firstNonEmpty(next.Email, prev.Email)
	md, old := &next.UserMetadata, prev.UserMetadata
	md.UserName = firstNonEmpty(md.UserName, old.UserName)
	md.PreferredUsername = firstNonEmpty(md.PreferredUsername, old.PreferredUsername)
	md.FullName = firstNonEmpty(md.FullName, old.FullName)
	md.AvatarURL = firstNonEmpty(md.AvatarURL, old.AvatarURL)
	return next
}

// replaceSession swaps old for next unless the session changed meanwhile.
func (c *Client) replaceSession(old, next *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.RefreshToken != old.RefreshToken {
		return
	}
	c.setSessionLocked(next)
}

func (c *Client) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RefreshTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refreshIfNeeded()
		}
	}
}

func (c *Client) refreshIfNeeded() {
	s := c.snapshot()
	if s == nil || s.RefreshToken == "" {
		return
	}
	exp := s.Expiry()
	if exp.IsZero() || exp.Sub(c.now()) > c.cfg.RefreshMargin {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPTimeout)
	defer cancel()
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Warnf("background refresh: %v", err)
	}
}

// SignOut revokes the session remotely and always clears it locally. The
// returned error only reports the remote revocation.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.snapshot()
	var err error
	if s != nil && s.AccessToken != "" {
		err = c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, s.AccessToken, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusNotFound) {
			// Already invalid on the server
			err = nil
		}
	}
	c.setSession(nil)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, bearer string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.cfg.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) *APIError {
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(data, &body) != nil {
		return apiErr
	}
	apiErr.Code = firstNonEmpty(body.ErrorCode, body.Error)
	apiErr.Message = firstNonEmpty(body.ErrorDescription, body.Msg, body.Message)
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Close stops the callback server and the refresh loop, then the broker.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)

		c.serverMu.Lock()
		srv := c.server
		c.serverMu.Unlock()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = srv.Shutdown(ctx)
			cancel()
		}

		c.wg.Wait()
		c.broker.Close()
	})
	return err
}
