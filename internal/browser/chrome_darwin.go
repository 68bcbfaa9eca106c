//go:build darwin

package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var chromePaths = []string{
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
	"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
}

// findChrome returns the first installed Chromium-family browser, falling
// back to a Spotlight lookup by bundle id.
func findChrome() string {
	for _, p := range chromePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	bundles := []struct{ id, exec string }{
		{"com.google.Chrome", "Contents/MacOS/Google Chrome"},
		{"org.chromium.Chromium", "Contents/MacOS/Chromium"},
		{"com.brave.Browser", "Contents/MacOS/Brave Browser"},
	}
	for _, b := range bundles {
		if app := findViaMDFind(b.id); app != "" {
			return filepath.Join(app, b.exec)
		}
	}
	return ""
}

func findViaMDFind(bundleID string) string {
	out, err := exec.Command("mdfind", fmt.Sprintf("kMDItemCFBundleIdentifier == '%s'", bundleID)).Output()
	if err != nil || len(out) == 0 {
		return ""
	}
	return mostRecent(strings.Split(strings.TrimSpace(string(out)), "\n"))
}

func mostRecent(paths []string) string {
	var best string
	var bestTime time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = p, info.ModTime()
		}
	}
	return best
}
