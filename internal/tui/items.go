package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/stashsave/internal/backend"
)

type resultItem struct {
	result  backend.SearchResult
	rank    int
	maxDesc int
}

func (i resultItem) Title() string {
	return ResultTitleStyle.Render(fmt.Sprintf("%d. %s", i.rank, i.result.Title)) + " " + ScoreStyle.Render(i.result.ScoreLabel())
}

func (i resultItem) Description() string {
	desc := strings.Join(strings.Fields(i.result.Description), " ")
	if i.maxDesc > 0 {
		desc = truncateEnd(desc, i.maxDesc)
	}
	if desc == "" {
		desc = MsgNoDescription
	}
	rendered := lipgloss.NewStyle().Foreground(MutedColor).Render(desc)
	if len(i.result.Tags) > 0 {
		rendered += " " + TagStyle.Render("#"+strings.Join(i.result.Tags, " #"))
	}
	return rendered
}

func (i resultItem) FilterValue() string {
	return i.result.Title + " " + i.result.Description
}
