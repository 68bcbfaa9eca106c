// Package auth runs the NotebookLM authentication lifecycle: interactive
// browser login, validation of a saved session, cookie import, and clearing.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/tmc/nlmauth/internal/browser"
	"github.com/tmc/nlmauth/internal/config"
	"github.com/tmc/nlmauth/internal/state"
)

var (
	// ErrLoginTimeout means the user did not finish logging in before the
	// login deadline.
	ErrLoginTimeout = errors.New("login timed out")
	// ErrNotAuthenticated means no browser state has been saved.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidSession means the saved session no longer reaches the
	// target without a login.
	ErrInvalidSession = errors.New("saved session is not valid")
)

// LoginState tracks a Setup run.
type LoginState int

const (
	NotStarted LoginState = iota
	AwaitingLogin
	Authenticated
	TimedOut
	Failed
)

func (s LoginState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case AwaitingLogin:
		return "awaiting login"
	case Authenticated:
		return "authenticated"
	case TimedOut:
		return "timed out"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("LoginState(%d)", int(s))
}

// LoginResult reports how far Setup got.
type LoginResult struct {
	State   LoginState
	URL     string // URL the browser ended on
	Cookies int    // cookies saved
	Info    state.AuthInfo
}

type Manager struct {
	cfg    *config.Config
	store  *state.Store
	driver browser.Driver
	fs     afero.Fs
	logger *slog.Logger

	targetPattern *regexp.Regexp
}

type Option func(*Manager)

// WithFs sets the filesystem ImportCookiesFile reads from.
func WithFs(fsys afero.Fs) Option { return func(m *Manager) { m.fs = fsys } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func New(cfg *config.Config, store *state.Store, driver browser.Driver, opts ...Option) *Manager {
	m := &Manager{
		cfg:           cfg,
		store:         store,
		driver:        driver,
		fs:            afero.NewOsFs(),
		logger:        slog.Default(),
		targetPattern: TargetPattern(cfg.TargetURL),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TargetPattern matches any page under targetURL's scheme and host.
func TargetPattern(targetURL string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(strings.TrimRight(targetURL, "/")) + "/")
}

func (m *Manager) IsAuthenticated() bool { return m.store.IsAuthenticated() }

func (m *Manager) Info() state.Info { return m.store.Info() }

func (m *Manager) Clear() error { return m.store.Clear() }

// onTarget reports whether url landed on the target rather than the login
// page.
func (m *Manager) onTarget(url string) bool {
	return strings.Contains(url, m.cfg.TargetHost()) && !strings.Contains(url, m.cfg.LoginHost)
}

type setupOptions struct {
	headless bool
	timeout  time.Duration
}

type SetupOption func(*setupOptions)

func WithHeadless(headless bool) SetupOption {
	return func(o *setupOptions) { o.headless = headless }
}

// WithTimeout bounds the wait for the user to finish logging in.
func WithTimeout(d time.Duration) SetupOption {
	return func(o *setupOptions) { o.timeout = d }
}

// Setup opens the browser on the target and waits for the user to log in.
// If the profile is already logged in the wait is skipped. On success the
// browser state and auth info are saved. The browser is closed on every
// path.
func (m *Manager) Setup(ctx context.Context, opts ...SetupOption) (*LoginResult, error) {
	o := setupOptions{timeout: config.MinutesToDuration(m.cfg.Login.TimeoutMinutes)}
	for _, opt := range opts {
		opt(&o)
	}
	res := &LoginResult{State: NotStarted}
	fail := func(err error) (*LoginResult, error) {
		res.State = Failed
		return res, err
	}

	if err := m.store.Init(); err != nil {
		return fail(err)
	}
	sess, err := m.launch(ctx, o.headless)
	if err != nil {
		return fail(err)
	}
	defer m.closeSession(sess)

	res.State = AwaitingLogin
	navCtx, cancel := context.WithTimeout(ctx, o.timeout)
	loc, err := sess.Navigate(navCtx, m.cfg.TargetURL)
	cancel()
	if err != nil {
		return fail(err)
	}
	res.URL = loc

	if m.onTarget(loc) {
		m.logger.Info("already authenticated", "url", loc)
	} else {
		m.logger.Info("waiting for login", "url", loc, "timeout", o.timeout)
		loc, err = sess.WaitURL(ctx, m.targetPattern, o.timeout)
		if errors.Is(err, browser.ErrTimeout) {
			res.State = TimedOut
			return res, fmt.Errorf("%w after %s", ErrLoginTimeout, o.timeout)
		}
		if err != nil {
			return fail(fmt.Errorf("wait for login: %w", err))
		}
		res.URL = loc
	}

	st, err := sess.StorageState(ctx)
	if err != nil {
		return fail(err)
	}
	if err := m.store.SaveState(st); err != nil {
		return fail(err)
	}
	res.Cookies = len(st.Cookies)
	res.Info = m.recordAuth(state.MethodBrowserLogin)
	res.State = Authenticated
	return res, nil
}

// Reauth clears all saved state and runs Setup. Nothing is launched if
// clearing fails.
func (m *Manager) Reauth(ctx context.Context, opts ...SetupOption) (*LoginResult, error) {
	if err := m.store.Clear(); err != nil {
		return &LoginResult{State: Failed}, fmt.Errorf("clear before reauth: %w", err)
	}
	return m.Setup(ctx, opts...)
}

// Validate loads the target headlessly with the saved session and checks
// that no login is required. It returns nil when the session is valid.
func (m *Manager) Validate(ctx context.Context) error {
	if !m.store.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	sess, err := m.launch(ctx, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	defer m.closeSession(sess)

	timeout := m.cfg.ValidateTimeout()
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	loc, err := sess.Navigate(navCtx, m.cfg.TargetURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !m.onTarget(loc) {
		return fmt.Errorf("%w: redirected to %s", ErrInvalidSession, loc)
	}
	m.logger.Debug("session valid", "url", loc)
	return nil
}

// launch starts a persistent session and restores any saved cookies into it.
func (m *Manager) launch(ctx context.Context, headless bool) (browser.Session, error) {
	sess, err := m.driver.Launch(ctx, browser.LaunchOptions{
		ProfileDir: m.store.ProfileDir(),
		Headless:   headless,
		ExecPath:   m.cfg.Browser.ExecPath,
		UserAgent:  m.cfg.Browser.UserAgent,
		WindowSize: m.cfg.Browser.WindowSize,
		NoSandbox:  m.cfg.Browser.NoSandbox,
	})
	if err != nil {
		return nil, err
	}

	st, err := m.store.LoadState()
	switch {
	case errors.Is(err, state.ErrNoState):
		return sess, nil
	case err != nil:
		m.logger.Warn("not restoring saved cookies", "error", err)
		return sess, nil
	}
	if err := sess.AddCookies(ctx, st.Cookies); err != nil {
		m.closeSession(sess)
		return nil, err
	}
	m.logger.Debug("restored saved cookies", "count", len(st.Cookies))
	return sess, nil
}

func (m *Manager) closeSession(sess browser.Session) {
	if err := sess.Close(); err != nil {
		m.logger.Debug("close browser", "error", err)
	}
}

// recordAuth writes auth info. It is advisory, so a failure is only logged.
func (m *Manager) recordAuth(method string) state.AuthInfo {
	ai, err := m.store.RecordAuth(method)
	if err != nil {
		m.logger.Warn("could not record auth info", "error", err)
	}
	return ai
}
