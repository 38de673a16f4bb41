package tui

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pders01/stashsave/internal/config"
)

func TestShowBanner(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	ShowBanner("1.0.0-test")

	w.Close()
	os.Stdout = old
	out := <-outC

	assert.Contains(t, out, "Semantic search for your GitHub stars")
	assert.Contains(t, out, "╔")
	assert.Contains(t, out, "╝")
	assert.Contains(t, out, "◆")
	assert.Contains(t, out, "v1.0.0-test")
}

func TestRenderBannerDevVersion(t *testing.T) {
	out := RenderBanner("dev")
	assert.Contains(t, out, "Semantic search for your GitHub stars")
	assert.NotContains(t, out, "vdev")
}

func TestGetWelcomeMessage(t *testing.T) {
	result := GetWelcomeMessage("ctrl+l")

	assert.Contains(t, result, "Press ctrl+l to connect GitHub")
	assert.Contains(t, result, strings.TrimSpace(LogoLines[0]))
}

func TestApplyTheme(t *testing.T) {
	defer ApplyTheme(config.TestConfig().UI.Colors)

	ApplyTheme(config.UIColors{Accent: "#123456"})
	assert.Equal(t, "#123456", string(AccentColor))
}
