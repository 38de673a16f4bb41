package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/coordinator"
)

type KeyHandler struct {
	app         *App
	config      *config.Config
	modifierKey string
}

func NewKeyHandler(app *App, cfg *config.Config) *KeyHandler {
	modifierKey := ""
	if cfg.Keys.Modifier != "" {
		modifierKey = cfg.Keys.Modifier + "+"
	}
	return &KeyHandler{app: app, config: cfg, modifierKey: modifierKey}
}

// binding returns the full key string for a configured action key.
func (kh *KeyHandler) binding(key string) string {
	return kh.modifierKey + key
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	// Any key dismisses the last notice
	kh.app.notice = ""

	if key == "ctrl+c" {
		return kh.app, tea.Quit
	}

	if model, cmd, handled := kh.handleActionKeys(key); handled {
		return model, cmd
	}

	switch kh.app.view {
	case ViewDetail:
		return kh.handleDetailKeys(msg)
	default:
		if kh.app.focus == FocusInput {
			return kh.handleInputKeys(msg)
		}
		return kh.handleResultKeys(msg)
	}
}

// handleActionKeys handles the modifier bound intents available everywhere.
// Intents are dropped while an operation is running or when the identity
// service is not configured.
func (kh *KeyHandler) handleActionKeys(key string) (tea.Model, tea.Cmd, bool) {
	b := kh.config.Keys.Bindings
	app := kh.app

	switch key {
	case kh.binding(b.Quit):
		return app, tea.Quit, true
	case kh.binding(b.MoreResults):
		app.topK = coordinator.ClampTopK(app.topK + 1)
		return app, nil, true
	case kh.binding(b.FewerResults):
		app.topK = coordinator.ClampTopK(app.topK - 1)
		return app, nil, true
	case kh.binding(b.Login), kh.binding(b.Logout), kh.binding(b.Import):
	default:
		return app, nil, false
	}

	if !kh.actionsEnabled() {
		return app, nil, true
	}

	switch key {
	case kh.binding(b.Login):
		return app, app.login(), true
	case kh.binding(b.Logout):
		return app, app.logout(), true
	default:
		return app, app.runImport(), true
	}
}

func (kh *KeyHandler) actionsEnabled() bool {
	return kh.app.configured() && kh.app.coord != nil && !kh.app.state.Busy
}

func (kh *KeyHandler) handleInputKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	app := kh.app

	switch msg.String() {
	case "enter":
		if !kh.actionsEnabled() {
			return app, nil
		}
		return app, app.runSearch(app.searchInput.Value(), app.topK)
	case "esc":
		app.searchInput.SetValue("")
		return app, nil
	case "down", "tab":
		app.focusResults()
		return app, nil
	}

	newInput, cmd := app.searchInput.Update(msg)
	app.searchInput = newInput
	return app, cmd
}

func (kh *KeyHandler) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	app := kh.app

	switch msg.String() {
	case "q":
		return app, tea.Quit
	case "esc", "tab", "/":
		app.focusInput()
		return app, nil
	case "enter":
		return kh.openDetail()
	case kh.config.Keys.Bindings.OpenLink:
		if item, ok := app.resultList.SelectedItem().(resultItem); ok {
			return app, app.openLink(item.result.URL)
		}
		return app, nil
	case "up", "k":
		if app.resultList.Index() == 0 {
			app.focusInput()
			return app, nil
		}
	}

	newList, cmd := app.resultList.Update(msg)
	app.resultList = newList
	return app, cmd
}

func (kh *KeyHandler) openDetail() (tea.Model, tea.Cmd) {
	app := kh.app
	item, ok := app.resultList.SelectedItem().(resultItem)
	if !ok {
		return app, nil
	}
	result := item.result
	app.current = &result
	app.view = ViewDetail
	app.rendering = true
	return app, app.renderDetail(result)
}

func (kh *KeyHandler) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	app := kh.app

	switch msg.String() {
	case "q":
		return app, tea.Quit
	case kh.config.Keys.Bindings.Back, "backspace":
		app.view = ViewSearch
		app.current = nil
		app.rendering = false
		return app, nil
	case kh.config.Keys.Bindings.OpenLink:
		if app.current != nil {
			return app, app.openLink(app.current.URL)
		}
		return app, nil
	}

	newViewport, cmd := app.viewport.Update(msg)
	app.viewport = newViewport
	return app, cmd
}

// GetHelpForCurrentView lists the key hints for the status bar.
func (kh *KeyHandler) GetHelpForCurrentView() []string {
	b := kh.config.Keys.Bindings
	app := kh.app

	if !app.configured() {
		return []string{kh.binding(b.Quit) + "/ctrl+c: quit"}
	}

	var help []string
	switch app.view {
	case ViewDetail:
		help = []string{
			b.OpenLink + ": open in browser",
			b.Back + ": back",
			"↑↓: scroll",
			"q: quit",
		}
	default:
		if app.focus == FocusInput {
			help = append(help, "enter: search")
			if len(app.resultList.Items()) > 0 {
				help = append(help, "↓: results")
			}
		} else {
			help = append(help, "enter: details", b.OpenLink+": open", "tab: search box")
		}
		if app.session == nil {
			help = append(help, kh.binding(b.Login)+": login")
		} else {
			help = append(help, kh.binding(b.Import)+": import stars", kh.binding(b.Logout)+": logout")
		}
		help = append(help,
			kh.binding(b.FewerResults)+"/"+kh.binding(b.MoreResults)+": top-k",
			kh.binding(b.Quit)+": quit",
		)
	}

	if app.state.Busy {
		help = append([]string{"busy"}, help...)
	}
	return help
}
