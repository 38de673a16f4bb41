package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/stashsave/internal/auth"
	"github.com/pders01/stashsave/internal/backend"
	"github.com/pders01/stashsave/internal/browser"
	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/coordinator"
	"github.com/pders01/stashsave/internal/session"
	"github.com/pders01/stashsave/internal/storage"
)

// HealthChecker reports backend liveness for the header.
type HealthChecker interface {
	Health(ctx context.Context) (*backend.Health, error)
}

// HistoryReader feeds search suggestions.
type HistoryReader interface {
	RecentQueries(userID string, limit int) ([]storage.QueryRecord, error)
}

// Deps are the collaborators the App renders and dispatches to. Health,
// History and Opener may be nil.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Sessions    *session.Store
	Health      HealthChecker
	History     HistoryReader
	Opener      browser.Opener
}

type App struct {
	config     *config.Config
	coord      *coordinator.Coordinator
	sessions   *session.Store
	health     HealthChecker
	history    HistoryReader
	opener     browser.Opener
	keyHandler *KeyHandler

	resultList  list.Model
	searchInput textinput.Model
	viewport    viewport.Model
	spinner     spinner.Model

	view    View
	focus   Focus
	topK    int
	state   coordinator.State
	session *auth.Session
	current *backend.SearchResult

	healthLine string
	notice     string
	noticeKind coordinator.Kind
	rendering  bool
	spinning   bool

	width           int
	height          int
	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
}

func NewApp(cfg *config.Config, deps Deps) *App {
	ApplyTheme(cfg.UI.Colors)

	resultList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	resultList.Title = "› results"
	resultList.SetShowStatusBar(false)
	resultList.SetFilteringEnabled(false)
	resultList.SetShowHelp(false)

	si := textinput.New()
	si.Placeholder = "Search your starred repositories..."
	si.Prompt = "› "
	si.ShowSuggestions = true
	si.CharLimit = 256
	si.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	topK := cfg.Search.DefaultTopK
	if topK == 0 {
		topK = config.DefaultTopK
	}

	app := &App{
		config:      cfg,
		coord:       deps.Coordinator,
		sessions:    deps.Sessions,
		health:      deps.Health,
		history:     deps.History,
		opener:      deps.Opener,
		resultList:  resultList,
		searchInput: si,
		viewport:    viewport.New(0, 0),
		spinner:     sp,
		view:        ViewSearch,
		focus:       FocusInput,
		topK:        coordinator.ClampTopK(topK),
		healthLine:  MsgBackendUnknown,
	}
	if app.sessions != nil {
		app.session = app.sessions.Current()
	}

	app.keyHandler = NewKeyHandler(app, cfg)

	return app
}

// configured is false when no identity provider is available; every action
// is disabled then.
func (a *App) configured() bool {
	return a.sessions != nil && a.sessions.Configured()
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	maxWidth := a.config.UI.Result.WordWrapMaxWidth
	minWidth := a.config.UI.Result.WordWrapMinWidth
	if maxWidth <= 0 {
		maxWidth = 120
	}
	if minWidth <= 0 {
		minWidth = 40
	}

	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > maxWidth {
		wordWrapWidth = maxWidth
	}
	if wordWrapWidth < minWidth {
		wordWrapWidth = minWidth
	}
	if a.width < 50 {
		wordWrapWidth = a.width - 4
		if wordWrapWidth < 20 {
			wordWrapWidth = 20
		}
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}

	return a.glamourRenderer, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, a.checkHealth(), a.loadHistory()}
	if a.sessions != nil {
		cmds = append(cmds, a.listenSessions())
	}
	if a.coord != nil {
		cmds = append(cmds, a.listenState())
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case sessionChangedMsg:
		prev := a.session.UserID()
		a.session = a.sessions.Current()
		cmds = append(cmds, a.listenSessions())
		if a.session.UserID() != prev {
			cmds = append(cmds, a.loadHistory())
		}

	case stateChangedMsg:
		a.applyState(a.coord.State())
		cmds = append(cmds, a.listenState())
		if a.state.Busy && !a.spinning {
			a.spinning = true
			cmds = append(cmds, a.spinner.Tick)
		}

	case spinner.TickMsg:
		if !a.state.Busy {
			a.spinning = false
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case healthMsg:
		a.healthLine = msg.line

	case historyLoadedMsg:
		a.searchInput.SetSuggestions(msg.queries)

	case actionDoneMsg:
		if msg.action == actionSearch && msg.err == nil {
			cmds = append(cmds, a.loadHistory())
		}

	case detailRenderedMsg:
		if a.view == ViewDetail {
			a.viewport.SetContent(msg.content)
			a.viewport.GotoTop()
			a.rendering = false
		}

	case noticeMsg:
		a.notice = msg.text
		a.noticeKind = msg.kind
	}

	if a.view == ViewDetail {
		switch msg.(type) {
		case tea.WindowSizeMsg, tea.MouseMsg:
			newViewport, cmd := a.viewport.Update(msg)
			a.viewport = newViewport
			cmds = append(cmds, cmd)
		}
	}

	return a, tea.Batch(cmds...)
}

func (a *App) applyState(st coordinator.State) {
	a.state = st
	items := make([]list.Item, len(st.Results))
	for i, r := range st.Results {
		items[i] = resultItem{result: r, rank: i + 1, maxDesc: a.config.UI.Result.MaxDescriptionLength}
	}
	a.resultList.SetItems(items)
	if len(items) == 0 && a.focus == FocusResults {
		a.focusInput()
	}
	if len(items) > 0 {
		a.resultList.Title = "› results (" + MsgResultsCount(len(items)) + ")"
	} else {
		a.resultList.Title = "› results"
	}
}

// chromeHeight is the number of lines above and below the result list.
const chromeHeight = 11

func (a *App) layout() {
	listHeight := a.height - chromeHeight
	if listHeight < 3 {
		listHeight = 3
	}
	a.resultList.SetSize(a.width, listHeight)
	a.viewport.Width = a.width
	a.viewport.Height = a.height - 3

	inputWidth := a.width - 8
	if inputWidth < 10 {
		inputWidth = a.width - 4
	}
	a.searchInput.Width = inputWidth
}

func (a *App) focusInput() {
	a.focus = FocusInput
	a.searchInput.Focus()
}

func (a *App) focusResults() bool {
	if len(a.resultList.Items()) == 0 {
		return false
	}
	a.focus = FocusResults
	a.searchInput.Blur()
	return true
}

func (a *App) View() string {
	var content string

	switch a.view {
	case ViewDetail:
		if a.rendering {
			content = renderCentered(a.width, a.height-3, renderMuted(MsgRenderingEntry))
		} else {
			content = a.viewport.View()
		}
	default:
		content = a.searchView()
	}

	separatorWidth := a.width - 2
	if separatorWidth < 0 {
		separatorWidth = 0
	}
	separator := SeparatorStyle.Render("─" + strings.Repeat("─", separatorWidth))

	return lipgloss.JoinVertical(lipgloss.Top, content, separator, a.statusBar())
}

func (a *App) headerSubtitle() string {
	switch {
	case !a.configured():
		return ""
	case a.session != nil:
		return MsgConnectedAs(a.session)
	default:
		return MsgNotConnected
	}
}

func (a *App) searchView() string {
	header := renderHeader(CompactLogo+" "+a.healthLine, a.headerSubtitle(), a.width)

	if !a.configured() {
		return ContentWrapper(a.width, a.height-3).Render(lipgloss.JoinVertical(
			lipgloss.Top,
			header,
			"",
			ErrorMessageStyle.Width(a.width-2).Render(MsgConfigMissing),
		))
	}

	inputLine := lipgloss.JoinHorizontal(lipgloss.Center,
		renderInputFrame(a.searchInput.View(), a.focus == FocusInput, a.searchInput.Width),
		" ",
		renderMuted(MsgTopK(a.topK)),
	)

	activity := ""
	if a.state.Busy {
		label := a.state.Import.Stage
		if label == "" {
			label = MsgSearching
		}
		activity = a.spinner.View() + " " + renderMuted(label)
	}

	var body string
	switch {
	case len(a.resultList.Items()) > 0:
		body = a.resultList.View()
	case a.session == nil && a.state.Import.IsZero() && a.state.Search.IsZero():
		body = renderCentered(a.width, a.height-chromeHeight, GetWelcomeMessage(a.keyHandler.binding(a.config.Keys.Bindings.Login)))
	}

	return ContentWrapper(a.width, a.height-3).Render(lipgloss.JoinVertical(
		lipgloss.Top,
		header,
		"",
		inputLine,
		activity,
		renderStatus(a.state.Import, a.width),
		renderStatus(a.state.Search, a.width),
		"",
		body,
	))
}

func (a *App) statusBar() string {
	if a.notice != "" {
		return StatusBarStyle.Width(a.width).Render(statusStyle(a.noticeKind).Render(a.notice))
	}
	commands := a.keyHandler.GetHelpForCurrentView()
	if len(commands) == 0 {
		return ""
	}
	return StatusBarStyle.Width(a.width).Render(truncateEnd(strings.Join(commands, " • "), a.width-2))
}
