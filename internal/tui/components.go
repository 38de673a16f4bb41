package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/stashsave/internal/coordinator"
)

// renderHeader returns a consistently styled header with an optional muted subtitle.
// Width is used to guide truncation via helpers.
func renderHeader(title, subtitle string, width int) string {
	title = truncateEnd(title, width-2)
	subtitle = truncateEnd(subtitle, width-2)
	rows := []string{HeaderStyle.Render(title)}
	if subtitle != "" {
		rows = append(rows, renderMuted(subtitle))
	}
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

// renderInputFrame draws a rounded bordered container around a rendered input view.
func renderInputFrame(inputView string, focused bool, contentWidth int) string {
	borderColor := MutedColor
	if focused {
		borderColor = AccentColor
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(contentWidth + 4).
		Render(inputView)
}

// renderCentered centers the provided content within the given width/height box.
func renderCentered(width, height int, content string) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

func renderMuted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}

func statusStyle(kind coordinator.Kind) lipgloss.Style {
	switch kind {
	case coordinator.KindSuccess:
		return StatusSuccessStyle
	case coordinator.KindWarn:
		return StatusWarnStyle
	case coordinator.KindError:
		return StatusErrorStyle
	default:
		return StatusInfoStyle
	}
}

// renderStatus draws an operation's stage and message on one line. Errors
// get a cross, success a check.
func renderStatus(st coordinator.OperationStatus, width int) string {
	if st.IsZero() {
		return ""
	}
	text := st.Stage
	if st.Message != "" {
		if text != "" {
			text += " "
		}
		text += st.Message
	}
	switch st.Kind {
	case coordinator.KindError:
		text = "✗ " + text
	case coordinator.KindSuccess:
		text = "✓ " + text
	}
	return statusStyle(st.Kind).Render(truncateEnd(text, width-2))
}
