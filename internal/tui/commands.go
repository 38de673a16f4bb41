package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/stashsave/internal/backend"
	"github.com/pders01/stashsave/internal/coordinator"
	"github.com/pders01/stashsave/internal/debuglog"
)

type sessionChangedMsg struct{}

type stateChangedMsg struct{}

type healthMsg struct {
	line string
}

type historyLoadedMsg struct {
	queries []string
}

type detailRenderedMsg struct {
	content string
}

type noticeMsg struct {
	text string
	kind coordinator.Kind
}

type action string

const (
	actionLogin  action = "login"
	actionLogout action = "logout"
	actionImport action = "import"
	actionSearch action = "search"
)

type actionDoneMsg struct {
	action action
	err    error
}

const healthTimeout = 5 * time.Second

// waitFor turns one signal from ch into msg. A closed channel ends the
// listen loop.
func waitFor(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return msg
	}
}

func (a *App) listenSessions() tea.Cmd {
	return waitFor(a.sessions.Changes(), sessionChangedMsg{})
}

func (a *App) listenState() tea.Cmd {
	return waitFor(a.coord.Changes(), stateChangedMsg{})
}

func (a *App) checkHealth() tea.Cmd {
	if a.health == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		h, err := a.health.Health(ctx)
		if err != nil {
			debuglog.Warnf("backend health: %v", err)
			return healthMsg{line: "backend: unreachable"}
		}
		return healthMsg{line: fmt.Sprintf("backend: %s", h.Status)}
	}
}

func (a *App) loadHistory() tea.Cmd {
	if a.history == nil || a.session == nil {
		return nil
	}
	userID := a.session.UserID()
	limit := a.config.Search.HistorySize
	return func() tea.Msg {
		records, err := a.history.RecentQueries(userID, limit)
		if err != nil {
			debuglog.Warnf("loading query history: %v", err)
			return nil
		}
		queries := make([]string, 0, len(records))
		for _, r := range records {
			queries = append(queries, r.Query)
		}
		return historyLoadedMsg{queries: queries}
	}
}

// runAction executes a coordinator intent off the update loop. The outcome
// reaches the view through the coordinator's change signal.
func (a *App) runAction(name action, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		err := fn(context.Background())
		if err != nil {
			debuglog.Debugf("%s: %v", name, err)
		}
		return actionDoneMsg{action: name, err: err}
	}
}

func (a *App) login() tea.Cmd {
	return a.runAction(actionLogin, a.coord.Login)
}

func (a *App) logout() tea.Cmd {
	return a.runAction(actionLogout, a.coord.Logout)
}

func (a *App) runImport() tea.Cmd {
	return a.runAction(actionImport, a.coord.Import)
}

func (a *App) runSearch(query string, topK int) tea.Cmd {
	return a.runAction(actionSearch, func(ctx context.Context) error {
		return a.coord.Search(ctx, query, topK)
	})
}

func detailMarkdown(r backend.SearchResult) string {
	var content strings.Builder
	content.WriteString(fmt.Sprintf("# %s\n\n", r.Title))
	content.WriteString(fmt.Sprintf("*Score: %s*\n\n", r.ScoreLabel()))

	if r.URL != "" {
		content.WriteString(fmt.Sprintf("[%s](%s)\n\n", r.URL, r.URL))
	}

	if len(r.Tags) > 0 {
		content.WriteString("**Topics:** ")
		for i, tag := range r.Tags {
			if i > 0 {
				content.WriteString(", ")
			}
			content.WriteString("`" + tag + "`")
		}
		content.WriteString("\n\n")
	}

	content.WriteString("---\n\n")

	if strings.TrimSpace(r.Description) != "" {
		content.WriteString(r.Description)
	} else {
		content.WriteString("_" + MsgNoDescription + "_")
	}
	content.WriteString("\n")
	return content.String()
}

func (a *App) renderDetail(r backend.SearchResult) tea.Cmd {
	return func() tea.Msg {
		markdown := detailMarkdown(r)

		renderer, err := a.getRenderer()
		if err != nil {
			return detailRenderedMsg{content: "Error initializing renderer: " + err.Error()}
		}

		rendered, err := renderer.Render(markdown)
		if err != nil {
			return detailRenderedMsg{content: markdown}
		}
		return detailRenderedMsg{content: rendered}
	}
}

func (a *App) openLink(url string) tea.Cmd {
	if a.opener == nil || url == "" {
		return nil
	}
	return func() tea.Msg {
		if err := a.opener.Open(url); err != nil {
			debuglog.Warnf("opening %s: %v", url, err)
			return noticeMsg{text: "✗ " + err.Error(), kind: coordinator.KindError}
		}
		return noticeMsg{text: "Opened " + truncateMiddle(url, 60), kind: coordinator.KindInfo}
	}
}
