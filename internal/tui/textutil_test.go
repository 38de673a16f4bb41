package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateEnd(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"stashsave", 20, "stashsave"},
		{"stashsave", 9, "stashsave"},
		{"stashsave", 6, "stash…"},
		{"stashsave", 1, "…"},
		{"stashsave", 0, ""},
		{"stashsave", -3, ""},
		{"ünïcödé", 4, "ünï…"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateEnd(tt.in, tt.limit), "truncateEnd(%q, %d)", tt.in, tt.limit)
	}
}

func TestTruncateMiddle(t *testing.T) {
	url := "https://github.com/charmbracelet/bubbletea"

	assert.Equal(t, url, truncateMiddle(url, 60))
	assert.Equal(t, "https…letea", truncateMiddle(url, 11))
	assert.Equal(t, "…a", truncateMiddle(url, 2))
	assert.Equal(t, "…", truncateMiddle(url, 1))
	assert.Empty(t, truncateMiddle(url, 0))
	assert.Len(t, []rune(truncateMiddle(url, 20)), 20)
}
