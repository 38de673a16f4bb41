package browser

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pders01/stashsave/internal/validation"
)

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(url string) error
}

// Launcher opens URLs with the configured platform opener.
type Launcher struct {
	opener string
	start  func(name string, args ...string) error
}

// NewLauncher returns a Launcher using opener, falling back to the platform
// default when opener is empty.
func NewLauncher(opener string) *Launcher {
	opener = strings.TrimSpace(opener)
	if opener == "" {
		opener = defaultOpener()
	}
	return &Launcher{opener: opener, start: startDetached}
}

// Command reports the opener the launcher will run.
func (l *Launcher) Command() string {
	return l.opener
}

func (l *Launcher) Open(rawURL string) error {
	if _, err := validation.NewEndpointValidator().ValidateAndNormalize(rawURL); err != nil {
		return fmt.Errorf("refusing to open %q: %w", rawURL, err)
	}

	name, args := l.commandFor(rawURL)
	if err := l.start(name, args...); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	return nil
}

func (l *Launcher) commandFor(rawURL string) (string, []string) {
	fields := strings.Fields(l.opener)
	name, extra := fields[0], fields[1:]

	// start is a cmd.exe builtin; the empty argument is the window title
	if name == "start" {
		return "cmd", append([]string{"/c", "start", ""}, append(extra, rawURL)...)
	}
	return name, append(extra, rawURL)
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func defaultOpener() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "windows":
		return "start"
	default:
		return "xdg-open"
	}
}
