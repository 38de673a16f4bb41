package tui

import (
	"fmt"

	"github.com/pders01/stashsave/internal/auth"
)

const (
	MsgNotConnected   = "Not connected"
	MsgConfigMissing  = "Identity service is not configured. Set auth.url and auth.anon_key (or SUPABASE_URL and SUPABASE_ANON_KEY) and restart."
	MsgSearching      = "Searching…"
	MsgRenderingEntry = "Rendering…"
	MsgBackendUnknown = "backend: checking…"
	MsgNoDescription  = "No description available."
)

func MsgConnectedAs(s *auth.Session) string {
	return "Connected as " + s.DisplayName()
}

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgTopK(k int) string {
	return fmt.Sprintf("top %d", k)
}
