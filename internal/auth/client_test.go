package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/storage"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) LoadSession(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memStore) SaveSession(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memStore) DeleteSession(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *recordingOpener) Open(u string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, u)
	return o.err
}

func (o *recordingOpener) last(t *testing.T) *url.URL {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.urls)
	u, err := url.Parse(o.urls[len(o.urls)-1])
	require.NoError(t, err)
	return u
}

// fakeGoTrue mimics the identity service token and logout endpoints.
type fakeGoTrue struct {
	t          *testing.T
	mu         sync.Mutex
	challenges []string
	pkceBodies []map[string]string
	refreshes  int
	logouts    []string

	refreshStatus int
}

func (f *fakeGoTrue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "test-anon-key", r.Header.Get("apikey"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Query().Get("grant_type") {
		case "pkce":
			f.pkceBodies = append(f.pkceBodies, body)
			if body["auth_code"] != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"bad code"}`)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":   "access-1",
				"refresh_token":  "refresh-1",
				"expires_in":     3600,
				"provider_token": "gho_provider",
				"user": map[string]interface{}{
					"id":            "user-1",
					"email":         "octo@example.com",
					"user_metadata": map[string]string{"user_name": "octocat"},
				},
			})
		case "refresh_token":
			f.refreshes++
			if f.refreshStatus != 0 {
				w.WriteHeader(f.refreshStatus)
				_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "access-2",
				"refresh_token": "refresh-2",
				"expires_in":    3600,
				"user":          map[string]interface{}{"id": "user-1"},
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logouts = append(f.logouts, r.Header.Get("Authorization"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

type sessionWatcher struct {
	ch chan *Session
}

func watch(c *Client) *sessionWatcher {
	w := &sessionWatcher{ch: make(chan *Session, 16)}
	c.Subscribe(func(s *Session) { w.ch <- s })
	return w
}

func (w *sessionWatcher) next(t *testing.T) *Session {
	t.Helper()
	select {
	case s := <-w.ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for session event")
		return nil
	}
}

func (w *sessionWatcher) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-w.ch:
		t.Fatalf("unexpected session event: %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestClient(t *testing.T, store SessionStore) (*Client, *fakeGoTrue, *recordingOpener) {
	t.Helper()
	gotrue := &fakeGoTrue{t: t}
	srv := httptest.NewServer(gotrue.handler())
	t.Cleanup(srv.Close)

	cfg := config.TestConfig().Auth
	cfg.URL = srv.URL
	opener := &recordingOpener{}

	c, err := NewClient(cfg, store, opener)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, gotrue, opener
}

func TestNewClientNotConfigured(t *testing.T) {
	cfg := config.TestConfig().Auth
	cfg.AnonKey = ""
	_, err := NewClient(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	cfg = config.TestConfig().Auth
	cfg.URL = "  "
	_, err = NewClient(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSubscribeDeliversInitialSession(t *testing.T) {
	c, _, _ := newTestClient(t, nil)
	w := watch(c)
	assert.Nil(t, w.next(t))
}

func TestSignInBuildsPKCEAuthorizeURL(t *testing.T) {
	c, _, opener := newTestClient(t, nil)

	err := c.SignIn(context.Background(), SignInOptions{Provider: "github", Scopes: "read:user repo"})
	require.NoError(t, err)

	u := opener.last(t)
	q := u.Query()
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	assert.Equal(t, "github", q.Get("provider"))
	assert.Equal(t, "read:user repo", q.Get("scopes"))
	assert.Equal(t, "s256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	redirect, err := url.Parse(q.Get("redirect_to"))
	require.NoError(t, err)
	assert.Equal(t, c.CallbackOrigin(), redirect.Scheme+"://"+redirect.Host)
	assert.NotEmpty(t, redirect.Query().Get("attempt"))
}

func TestSignInCallbackExchangesCode(t *testing.T) {
	store := newMemStore()
	c, gotrue, opener := newTestClient(t, store)
	w := watch(c)
	require.Nil(t, w.next(t))

	require.NoError(t, c.SignIn(context.Background(), SignInOptions{Scopes: "read:user repo"}))
	authorize := opener.last(t)
	challenge := authorize.Query().Get("code_challenge")

	redirect, err := url.Parse(authorize.Query().Get("redirect_to"))
	require.NoError(t, err)
	q := redirect.Query()
	q.Set("code", "good-code")
	redirect.RawQuery = q.Encode()

	resp, err := http.Get(redirect.String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "octocat")

	s := w.next(t)
	require.NotNil(t, s)
	assert.Equal(t, "user-1", s.UserID())
	assert.Equal(t, "gho_provider", s.ProviderToken)
	assert.NotZero(t, s.ExpiresAt)

	gotrue.mu.Lock()
	require.Len(t, gotrue.pkceBodies, 1)
	verifier := gotrue.pkceBodies[0]["code_verifier"]
	gotrue.mu.Unlock()
	assert.Equal(t, challenge, oauth2.S256ChallengeFromVerifier(verifier))

	_, err = store.LoadSession(config.DefaultStorageKey)
	assert.NoError(t, err, "session should be persisted")

	// The attempt is single use
	resp, err = http.Get(redirect.String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	w.none(t)
}

func TestSignInCallbackErrorProducesNoSession(t *testing.T) {
	c, gotrue, opener := newTestClient(t, nil)
	w := watch(c)
	require.Nil(t, w.next(t))

	require.NoError(t, c.SignIn(context.Background(), SignInOptions{}))
	redirect, err := url.Parse(opener.last(t).Query().Get("redirect_to"))
	require.NoError(t, err)
	q := redirect.Query()
	q.Set("error", "access_denied")
	q.Set("error_description", "The user denied the request")
	redirect.RawQuery = q.Encode()

	resp, err := http.Get(redirect.String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "The user denied the request")
	w.none(t)

	gotrue.mu.Lock()
	assert.Empty(t, gotrue.pkceBodies)
	gotrue.mu.Unlock()
}

func TestSignInBrowserFailure(t *testing.T) {
	c, _, opener := newTestClient(t, nil)
	opener.err = errors.New("no display")

	err := c.SignIn(context.Background(), SignInOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	assert.Equal(t, 0, c.attempts.ItemCount())
}

func TestRestoreAndRefresh(t *testing.T) {
	store := newMemStore()
	seed, _ := json.Marshal(&Session{
		AccessToken:   "access-0",
		RefreshToken:  "refresh-0",
		ExpiresAt:     time.Now().Add(-time.Minute).Unix(),
		ProviderToken: "gho_keep",
		User:          User{ID: "user-1", UserMetadata: UserMetadata{UserName: "octocat"}},
	})
	require.NoError(t, store.SaveSession(config.DefaultStorageKey, seed))

	c, gotrue, _ := newTestClient(t, store)
	w := watch(c)
	initial := w.next(t)
	require.NotNil(t, initial)
	assert.Equal(t, "access-0", initial.AccessToken)

	// Expired, so the query refreshes first
	s, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "access-2", s.AccessToken)
	assert.Equal(t, "gho_keep", s.ProviderToken, "provider token survives refresh")
	assert.Equal(t, "octocat", s.DisplayName())

	refreshed := w.next(t)
	assert.Equal(t, "access-2", refreshed.AccessToken)

	gotrue.mu.Lock()
	assert.Equal(t, 1, gotrue.refreshes)
	gotrue.mu.Unlock()
}

func TestRefreshRejectedSignsOut(t *testing.T) {
	store := newMemStore()
	seed, _ := json.Marshal(&Session{
		AccessToken:  "access-0",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(time.Minute).Unix(),
		User:         User{ID: "user-1"},
	})
	require.NoError(t, store.SaveSession(config.DefaultStorageKey, seed))

	c, gotrue, _ := newTestClient(t, store)
	gotrue.refreshStatus = http.StatusBadRequest
	w := watch(c)
	require.NotNil(t, w.next(t))

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_grant", apiErr.Code)

	assert.Nil(t, w.next(t))
	_, err = store.LoadSession(config.DefaultStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshIfNeededHonoursMargin(t *testing.T) {
	store := newMemStore()
	seed, _ := json.Marshal(&Session{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         User{ID: "user-1"},
	})
	require.NoError(t, store.SaveSession(config.DefaultStorageKey, seed))

	c, gotrue, _ := newTestClient(t, store)

	c.refreshIfNeeded()
	gotrue.mu.Lock()
	assert.Equal(t, 0, gotrue.refreshes, "far from expiry")
	gotrue.mu.Unlock()

	c.cfg.RefreshMargin = 2 * time.Hour
	c.refreshIfNeeded()
	gotrue.mu.Lock()
	assert.Equal(t, 1, gotrue.refreshes, "inside refresh margin")
	gotrue.mu.Unlock()
}

func TestSignOutClearsSession(t *testing.T) {
	store := newMemStore()
	seed, _ := json.Marshal(&Session{AccessToken: "access-0", User: User{ID: "user-1"}})
	require.NoError(t, store.SaveSession(config.DefaultStorageKey, seed))

	c, gotrue, _ := newTestClient(t, store)
	w := watch(c)
	require.NotNil(t, w.next(t))

	require.NoError(t, c.SignOut(context.Background()))
	assert.Nil(t, w.next(t))

	s, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)

	gotrue.mu.Lock()
	assert.Equal(t, []string{"Bearer access-0"}, gotrue.logouts)
	gotrue.mu.Unlock()

	_, err = store.LoadSession(config.DefaultStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Already signed out
	require.NoError(t, c.SignOut(context.Background()))
}

func TestSignOutClearsLocallyWhenRemoteFails(t *testing.T) {
	cfg := config.TestConfig().Auth
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	cfg.URL = srv.URL

	store := newMemStore()
	seed, _ := json.Marshal(&Session{AccessToken: "access-0", User: User{ID: "user-1"}})
	require.NoError(t, store.SaveSession(config.DefaultStorageKey, seed))

	c, err := NewClient(cfg, store, &recordingOpener{})
	require.NoError(t, err)
	defer c.Close()

	err = c.SignOut(context.Background())
	require.Error(t, err)
	s, _ := c.CurrentSession(context.Background())
	assert.Nil(t, s)
}

func TestDecodeAPIError(t *testing.T) {
	e := decodeAPIError(400, []byte(`{"code":400,"error_code":"bad_code_verifier","msg":"code challenge does not match"}`))
	assert.Equal(t, "bad_code_verifier", e.Code)
	assert.Equal(t, "code challenge does not match", e.Message)

	e = decodeAPIError(502, []byte("<html>bad gateway</html>"))
	assert.Equal(t, 502, e.StatusCode)
	assert.Contains(t, e.Error(), "Bad Gateway")
}

func TestMergeUserKeepsProfile(t *testing.T) {
	prev := User{
		ID:           "user-1",
		Email:        "octo@example.com",
		UserMetadata: UserMetadata{UserName: "octocat", AvatarURL: "https://avatars.example/1"},
	}

	tests := []struct {
		name string
		next User
		want User
	}{
		{"empty user keeps previous", User{}, prev},
		{"id only keeps profile", User{ID: "user-1"}, prev},
		{
			"newer fields win",
			User{ID: "user-1", UserMetadata: UserMetadata{FullName: "Mona Octocat", UserName: "mona"}},
			User{
				ID:           "user-1",
				Email:        "octo@example.com",
				UserMetadata: UserMetadata{UserName: "mona", FullName: "Mona Octocat", AvatarURL: "https://avatars.example/1"},
			},
		},
		{"different user is not merged", User{ID: "user-2"}, User{ID: "user-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeUser(prev, tt.next))
		})
	}
}
