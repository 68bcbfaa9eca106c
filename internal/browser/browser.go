// Package browser is the boundary to the browser automation engine.
//
// The auth flows only need two things from a browser: launch a persistent,
// fingerprint-stable session on a profile directory, and within that
// session navigate, wait for a URL, and read or inject cookie state.
// Driver and Session describe exactly that so tests can substitute a fake.
package browser

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/tmc/nlmauth/internal/state"
)

// ErrTimeout is returned by Session.WaitURL when the deadline passes first.
var ErrTimeout = errors.New("timed out waiting for URL")

// LaunchOptions configures a persistent session.
type LaunchOptions struct {
	ProfileDir string // user data dir reused across runs
	Headless   bool
	ExecPath   string // empty means autodetect
	UserAgent  string
	WindowSize string // "width,height"
	NoSandbox  bool
}

type Driver interface {
	// Launch starts a browser on opts.ProfileDir. The returned Session
	// must be closed by the caller on every path.
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

type Session interface {
	// Navigate loads url and returns the URL the page settled on.
	Navigate(ctx context.Context, url string) (string, error)
	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)
	// WaitURL blocks until the page URL matches pattern or timeout
	// elapses, returning the matching URL. On timeout the error wraps
	// ErrTimeout.
	WaitURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error)
	// AddCookies injects cookies into the browser's cookie jar.
	AddCookies(ctx context.Context, cookies []state.Cookie) error
	// StorageState snapshots all cookies and the current origin's local
	// storage.
	StorageState(ctx context.Context) (*state.StorageState, error)
	// Close shuts the browser down and releases the session.
	Close() error
}
