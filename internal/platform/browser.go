// internal/platform/browser.go
package platform

import (
	"fmt"
	"os/exec"
	"runtime"
)

// linuxOpeners are tried in order; the first one present in PATH wins.
var linuxOpeners = []string{"xdg-open", "sensible-browser", "firefox", "google-chrome", "chromium-browser"}

// OpenURL opens url in the user's default browser. Best effort: callers
// should print the URL as well so a headless session can still proceed.
func OpenURL(url string) error {
	cmd, err := openCommand(url)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

func openCommand(url string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	case "linux":
		for _, opener := range linuxOpeners {
			if _, err := exec.LookPath(opener); err == nil {
				return exec.Command(opener, url), nil
			}
		}
		return nil, fmt.Errorf("no browser opener found in PATH")
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
