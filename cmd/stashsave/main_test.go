package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/stashsave/internal/auth"
	"github.com/pders01/stashsave/internal/backend"
	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/storage"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return <-outC
}

func TestVersionCommand(t *testing.T) {
	out := captureStdout(t, func() {
		versionCmd.Run(nil, nil)
	})

	// Version is "dev" by default in tests
	assert.Contains(t, out, "stashsave dev")
	assert.Contains(t, out, "Semantic search for your GitHub stars")
	assert.Contains(t, out, "github.com/pders01/stashsave")
}

func TestGenerateConfigCommand(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, ".config", "stashsave", "config.toml")
	t.Setenv("HOME", tmpDir)

	out := captureStdout(t, func() {
		configGenCmd.Run(nil, nil)
	})

	assert.FileExists(t, configFile)
	assert.Contains(t, out, "Generated default configuration at:")
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "config", "login", "logout", "import", "search", "status"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	flag := searchCmd.Flags().Lookup("top-k")
	require.NotNil(t, flag)
	assert.Equal(t, "k", flag.Shorthand)
}

func TestExpandTilde(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"expand tilde path", "~/test.db", filepath.Join(home, "test.db")},
		{"absolute path unchanged", "/tmp/test.db", "/tmp/test.db"},
		{"relative path unchanged", "test.db", "test.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandTilde(tt.input))
		})
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []backend.SearchResult{
		{Title: "spf13/cobra", Description: "A Commander for modern Go CLI interactions", URL: "https://github.com/spf13/cobra", Tags: []string{"cli", "go"}, Score: 0.8123},
		{Title: "empty/repo", Score: 0.1},
	})

	out := buf.String()
	assert.Contains(t, out, " 1. spf13/cobra  (0.812)")
	assert.Contains(t, out, "    A Commander for modern Go CLI interactions")
	assert.Contains(t, out, "    #cli #go")
	assert.Contains(t, out, "    https://github.com/spf13/cobra")
	assert.Contains(t, out, " 2. empty/repo  (0.100)")
}

// writeTestConfig points the persistent flags at a temp config and database.
func writeTestConfig(t *testing.T, apiURL string, withAuth bool) string {
	t.Helper()
	for _, env := range []string{"SUPABASE_URL", "SUPABASE_ANON_KEY", "STASHSAVE_AUTH_URL", "STASHSAVE_AUTH_ANON_KEY", "API_BASE_URL", "STASHSAVE_API_BASE_URL"} {
		t.Setenv(env, "")
	}

	dir := t.TempDir()
	cfg := config.TestConfig()
	cfg.API.BaseURL = apiURL
	cfg.Database.Path = filepath.Join(dir, "stashsave.db")
	if !withAuth {
		cfg.Auth.URL = ""
		cfg.Auth.AnonKey = ""
	}

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, config.Save(cfg, path))

	oldConfig, oldDB, oldLevel := configPath, dbPath, logLevel
	configPath, dbPath, logLevel = path, "", "off"
	t.Cleanup(func() { configPath, dbPath, logLevel = oldConfig, oldDB, oldLevel })
	return cfg.Database.Path
}

func healthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"stash-search"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWriteStatusUnconfigured(t *testing.T) {
	srv := healthServer(t)
	writeTestConfig(t, srv.URL, false)

	rt, err := newServices(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	var buf bytes.Buffer
	writeStatus(context.Background(), &buf, rt)

	out := buf.String()
	assert.Contains(t, out, "backend:  "+srv.URL+" (ok)")
	assert.Contains(t, out, "identity: not configured")
	assert.Nil(t, rt.client)
}

func TestWriteStatusWithStoredSession(t *testing.T) {
	srv := healthServer(t)
	dbFile := writeTestConfig(t, srv.URL, true)

	store, err := storage.NewStore(dbFile, 0)
	require.NoError(t, err)
	data, err := json.Marshal(&auth.Session{
		AccessToken:   "access",
		RefreshToken:  "refresh",
		ProviderToken: "gho_token",
		User:          auth.User{ID: "user-1", UserMetadata: auth.UserMetadata{UserName: "octocat"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(config.DefaultStorageKey, data))
	require.NoError(t, store.SaveImport(storage.ImportRecord{UserID: "user-1", Ingested: 42}))
	require.NoError(t, store.Close())

	rt, err := newServices(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	var buf bytes.Buffer
	writeStatus(context.Background(), &buf, rt)

	out := buf.String()
	assert.Contains(t, out, "session:  connected as octocat")
	assert.Contains(t, out, "import:   42 repositories")
}

func TestWriteStatusBackendDown(t *testing.T) {
	srv := healthServer(t)
	url := srv.URL
	srv.Close()
	writeTestConfig(t, url, false)

	rt, err := newServices(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	var buf bytes.Buffer
	writeStatus(context.Background(), &buf, rt)
	assert.Contains(t, buf.String(), "unreachable")
}

func TestCommandsRequireIdentityService(t *testing.T) {
	srv := healthServer(t)
	writeTestConfig(t, srv.URL, false)

	for _, run := range []func() error{
		func() error { return runLogin(nil, nil) },
		func() error { return runLogout(nil, nil) },
		func() error { return runImport(nil, nil) },
		func() error { return runSearch(nil, []string{"cli"}) },
	} {
		assert.ErrorIs(t, run(), errNotConfigured)
	}
}
