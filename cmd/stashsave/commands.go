package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/stashsave/internal/backend"
	"github.com/pders01/stashsave/internal/coordinator"
	"github.com/pders01/stashsave/internal/storage"
)

var errNotConfigured = errors.New("identity service is not configured; set auth.url and auth.anon_key (or SUPABASE_URL and SUPABASE_ANON_KEY)")

// statusError turns a failed operation into the message the TUI would show.
func statusError(status coordinator.OperationStatus, err error) error {
	if status.Message != "" {
		return errors.New(status.Message)
	}
	return err
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	rt, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.sessions.Configured() {
		return errNotConfigured
	}
	if s := rt.sessions.Current(); s != nil {
		fmt.Printf("Already connected as %s\n", s.DisplayName())
		return nil
	}

	changes := rt.sessions.Changes()
	if err := rt.coord.Login(ctx); err != nil {
		return statusError(rt.coord.State().Import, err)
	}
	fmt.Printf("Continue in your browser. Waiting for the redirect on %s ...\n", rt.client.CallbackOrigin())

	timeout := time.NewTimer(rt.cfg.Auth.SignInTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-changes:
			if s := rt.sessions.Current(); s != nil {
				fmt.Printf("Connected as %s\n", s.DisplayName())
				return nil
			}
		case <-timeout.C:
			return fmt.Errorf("sign-in did not complete within %s", rt.cfg.Auth.SignInTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	rt, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.sessions.Configured() {
		return errNotConfigured
	}
	// Local state is cleared even when revocation fails
	if err := rt.coord.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	fmt.Println("Signed out")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	rt, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.sessions.Configured() {
		return errNotConfigured
	}

	fmt.Println(coordinator.StageImporting)
	if err := rt.coord.Import(ctx); err != nil {
		return statusError(rt.coord.State().Import, err)
	}
	fmt.Println(rt.coord.State().Import.Message)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	rt, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.sessions.Configured() {
		return errNotConfigured
	}

	k := topK
	if k == 0 {
		k = rt.cfg.Search.DefaultTopK
	}
	query := strings.Join(args, " ")
	if err := rt.coord.Search(ctx, query, k); err != nil {
		return statusError(rt.coord.State().Search, err)
	}

	st := rt.coord.State()
	if len(st.Results) == 0 {
		fmt.Println(st.Search.Message)
		return nil
	}
	printResults(os.Stdout, st.Results)
	return nil
}

func printResults(w io.Writer, results []backend.SearchResult) {
	for i, r := range results {
		fmt.Fprintf(w, "%2d. %s  (%s)\n", i+1, r.Title, r.ScoreLabel())
		if desc := strings.TrimSpace(r.Description); desc != "" {
			fmt.Fprintf(w, "    %s\n", desc)
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(w, "    #%s\n", strings.Join(r.Tags, " #"))
		}
		if r.URL != "" {
			fmt.Fprintf(w, "    %s\n", r.URL)
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	rt, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	writeStatus(ctx, os.Stdout, rt)
	return nil
}

func writeStatus(ctx context.Context, w io.Writer, rt *services) {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if h, err := rt.api.Health(hctx); err != nil {
		fmt.Fprintf(w, "backend:  %s (unreachable: %v)\n", rt.api.BaseURL(), err)
	} else {
		fmt.Fprintf(w, "backend:  %s (%s)\n", rt.api.BaseURL(), h.Status)
	}

	if !rt.sessions.Configured() {
		fmt.Fprintln(w, "identity: not configured")
		return
	}

	s := rt.sessions.Current()
	if s == nil {
		fmt.Fprintln(w, "session:  not connected")
		return
	}
	fmt.Fprintf(w, "session:  connected as %s\n", s.DisplayName())

	rec, err := rt.store.LastImport(s.UserID())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintln(w, "import:   never")
	case err != nil:
		fmt.Fprintf(w, "import:   unknown (%v)\n", err)
	default:
		fmt.Fprintf(w, "import:   %d repositories on %s\n", rec.Ingested, rec.ImportedAt.Local().Format("2006-01-02 15:04"))
	}
}
