//go:build !darwin

package browser

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"microsoft-edge",
	"brave-browser",
}

// findChrome looks on PATH first, then in the usual install locations.
// An empty result lets chromedp apply its own lookup.
func findChrome() string {
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	var candidates []string
	switch runtime.GOOS {
	case "windows":
		for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LocalAppData"} {
			if dir := os.Getenv(env); dir != "" {
				candidates = append(candidates, filepath.Join(dir, "Google", "Chrome", "Application", "chrome.exe"))
			}
		}
	default:
		candidates = []string{
			"/usr/bin/google-chrome",
			"/opt/google/chrome/chrome",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
