package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/tmc/nlmauth/internal/browser"
	"github.com/tmc/nlmauth/internal/config"
	"github.com/tmc/nlmauth/internal/cookies"
	"github.com/tmc/nlmauth/internal/state"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDriver struct {
	sess      *fakeSession
	launchErr error
	launches  int
	opts      browser.LaunchOptions
}

func (d *fakeDriver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	d.launches++
	d.opts = opts
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	return d.sess, nil
}

type fakeSession struct {
	landed string
	navErr error

	waitURL     string
	waitErr     error
	waited      bool
	waitTimeout time.Duration

	state    *state.StorageState
	stateErr error

	added  []state.Cookie
	closed int
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (string, error) {
	return s.landed, s.navErr
}

func (s *fakeSession) URL(ctx context.Context) (string, error) { return s.landed, nil }

func (s *fakeSession) WaitURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	s.waited = true
	s.waitTimeout = timeout
	if s.waitErr != nil {
		return "", s.waitErr
	}
	if !pattern.MatchString(s.waitURL) {
		return "", browser.ErrTimeout
	}
	return s.waitURL, nil
}

func (s *fakeSession) AddCookies(ctx context.Context, cookies []state.Cookie) error {
	s.added = append(s.added, cookies...)
	return nil
}

func (s *fakeSession) StorageState(ctx context.Context) (*state.StorageState, error) {
	return s.state, s.stateErr
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

func loggedInState() *state.StorageState {
	exp := 1767225600.0
	return &state.StorageState{
		Cookies: []state.Cookie{{Name: "SID", Value: "live", Domain: ".google.com", Path: "/", Secure: true, SameSite: "Lax", Expires: &exp}},
		Origins: []state.Origin{{Origin: "https://notebooklm.google.com", LocalStorage: []state.StorageEntry{{Name: "k", Value: "v"}}}},
	}
}

func newTestManager(t *testing.T, drv browser.Driver, fsys afero.Fs) (*Manager, *state.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = "/data"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.New(cfg,
		state.WithFs(fsys),
		state.WithClock(func() time.Time { return testNow }),
		state.WithLogger(logger),
	)
	return New(cfg, store, drv, WithFs(fsys), WithLogger(logger)), store
}

func TestSetupAlreadyLoggedIn(t *testing.T) {
	sess := &fakeSession{landed: "https://notebooklm.google.com/", state: loggedInState()}
	drv := &fakeDriver{sess: sess}
	m, store := newTestManager(t, drv, afero.NewMemMapFs())

	res, err := m.Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if res.State != Authenticated {
		t.Errorf("State = %v, want %v", res.State, Authenticated)
	}
	if sess.waited {
		t.Error("Setup waited for login although the target was reached directly")
	}
	if sess.closed != 1 {
		t.Errorf("session closed %d times, want 1", sess.closed)
	}
	if drv.opts.Headless {
		t.Error("Setup launched headless by default")
	}
	if drv.opts.ProfileDir != "/data/browser_profile" {
		t.Errorf("ProfileDir = %q", drv.opts.ProfileDir)
	}

	got, err := store.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if diff := cmp.Diff(loggedInState(), got); diff != "" {
		t.Errorf("saved state mismatch (-want +got):\n%s", diff)
	}
	info := m.Info()
	if info.Method != state.MethodBrowserLogin {
		t.Errorf("Method = %q, want %q", info.Method, state.MethodBrowserLogin)
	}
	if !info.Time().Equal(testNow) {
		t.Errorf("authenticated at %v, want %v", info.Time(), testNow)
	}
}

func TestSetupWaitsForLogin(t *testing.T) {
	sess := &fakeSession{
		landed:  "https://accounts.google.com/signin?continue=https://notebooklm.google.com/",
		waitURL: "https://notebooklm.google.com/notebook/abc",
		state:   loggedInState(),
	}
	m, _ := newTestManager(t, &fakeDriver{sess: sess}, afero.NewMemMapFs())

	res, err := m.Setup(context.Background(), WithTimeout(90*time.Second), WithHeadless(true))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if !sess.waited {
		t.Fatal("Setup did not wait on the login page")
	}
	if sess.waitTimeout != 90*time.Second {
		t.Errorf("wait timeout = %v, want 90s", sess.waitTimeout)
	}
	if res.State != Authenticated || res.URL != sess.waitURL || res.Cookies != 1 {
		t.Errorf("result = %+v", res)
	}
	if !m.IsAuthenticated() {
		t.Error("not authenticated after login")
	}
}

func TestSetupTimeout(t *testing.T) {
	sess := &fakeSession{
		landed:  "https://accounts.google.com/signin",
		waitErr: browser.ErrTimeout,
		state:   loggedInState(),
	}
	m, _ := newTestManager(t, &fakeDriver{sess: sess}, afero.NewMemMapFs())

	res, err := m.Setup(context.Background(), WithTimeout(time.Minute))
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("Setup error = %v, want %v", err, ErrLoginTimeout)
	}
	if res.State != TimedOut {
		t.Errorf("State = %v, want %v", res.State, TimedOut)
	}
	if sess.closed != 1 {
		t.Errorf("session closed %d times, want 1", sess.closed)
	}
	if m.IsAuthenticated() {
		t.Error("timed out login saved state")
	}
}

func TestSetupFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name       string
		drv        *fakeDriver
		wantClosed int
	}{
		{
			name: "launch",
			drv:  &fakeDriver{sess: &fakeSession{}, launchErr: boom},
		},
		{
			name:       "navigate",
			drv:        &fakeDriver{sess: &fakeSession{navErr: boom}},
			wantClosed: 1,
		},
		{
			name:       "wait",
			drv:        &fakeDriver{sess: &fakeSession{landed: "https://accounts.google.com/", waitErr: boom}},
			wantClosed: 1,
		},
		{
			name:       "read state",
			drv:        &fakeDriver{sess: &fakeSession{landed: "https://notebooklm.google.com/", stateErr: boom}},
			wantClosed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, tt.drv, afero.NewMemMapFs())
			res, err := m.Setup(context.Background())
			if !errors.Is(err, boom) {
				t.Fatalf("Setup error = %v, want %v", err, boom)
			}
			if res.State != Failed {
				t.Errorf("State = %v, want %v", res.State, Failed)
			}
			if tt.drv.sess.closed != tt.wantClosed {
				t.Errorf("session closed %d times, want %d", tt.drv.sess.closed, tt.wantClosed)
			}
			if m.IsAuthenticated() {
				t.Error("failed login saved state")
			}
		})
	}
}

func TestSetupRestoresSavedCookies(t *testing.T) {
	sess := &fakeSession{landed: "https://notebooklm.google.com/", state: loggedInState()}
	m, store := newTestManager(t, &fakeDriver{sess: sess}, afero.NewMemMapFs())
	if err := store.SaveState(loggedInState()); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if diff := cmp.Diff(loggedInState().Cookies, sess.added); diff != "" {
		t.Errorf("restored cookies mismatch (-want +got):\n%s", diff)
	}
}

func TestReauth(t *testing.T) {
	fsys := afero.NewMemMapFs()
	sess := &fakeSession{landed: "https://notebooklm.google.com/", state: loggedInState()}
	m, store := newTestManager(t, &fakeDriver{sess: sess}, fsys)
	if err := store.SaveState(&state.StorageState{Cookies: []state.Cookie{{Name: "OLD", Domain: ".google.com"}}}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Reauth(context.Background()); err != nil {
		t.Fatalf("Reauth: %v", err)
	}
	if len(sess.added) != 0 {
		t.Errorf("Reauth restored %d cookies from the cleared state", len(sess.added))
	}
	got, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if got.Cookies[0].Name != "SID" {
		t.Errorf("state not replaced: %+v", got.Cookies)
	}
}

func TestReauthClearFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	_, seedStore := newTestManager(t, &fakeDriver{}, base)
	if err := seedStore.SaveState(loggedInState()); err != nil {
		t.Fatal(err)
	}

	drv := &fakeDriver{sess: &fakeSession{landed: "https://notebooklm.google.com/"}}
	m, _ := newTestManager(t, drv, afero.NewReadOnlyFs(base))
	res, err := m.Reauth(context.Background())
	if err == nil {
		t.Fatal("Reauth succeeded on a read-only filesystem")
	}
	if res.State != Failed {
		t.Errorf("State = %v, want %v", res.State, Failed)
	}
	if drv.launches != 0 {
		t.Errorf("browser launched %d times after a failed clear", drv.launches)
	}
}

func TestValidate(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		sess    *fakeSession
		want    error
		wantErr bool
	}{
		{"valid", &fakeSession{landed: "https://notebooklm.google.com/"}, nil, false},
		{"redirected to login", &fakeSession{landed: "https://accounts.google.com/v3/signin?continue=https%3A%2F%2Fnotebooklm.google.com"}, ErrInvalidSession, true},
		{"navigation error", &fakeSession{navErr: boom}, boom, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &fakeDriver{sess: tt.sess}
			m, store := newTestManager(t, drv, afero.NewMemMapFs())
			if err := store.SaveState(loggedInState()); err != nil {
				t.Fatal(err)
			}
			err := m.Validate(context.Background())
			if (err != nil) != tt.wantErr || (tt.want != nil && !errors.Is(err, tt.want)) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidSession) {
				t.Errorf("Validate() = %v, not an %v", err, ErrInvalidSession)
			}
			if !drv.opts.Headless {
				t.Error("Validate launched a visible browser")
			}
			if tt.sess.closed != 1 {
				t.Errorf("session closed %d times, want 1", tt.sess.closed)
			}
			if len(tt.sess.added) != 1 {
				t.Errorf("restored %d cookies, want 1", len(tt.sess.added))
			}
		})
	}
}

func TestValidateNotAuthenticated(t *testing.T) {
	drv := &fakeDriver{sess: &fakeSession{}}
	m, _ := newTestManager(t, drv, afero.NewMemMapFs())
	if err := m.Validate(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Validate() = %v, want %v", err, ErrNotAuthenticated)
	}
	if drv.launches != 0 {
		t.Error("Validate launched a browser without saved state")
	}
}

func TestImportCookies(t *testing.T) {
	m, store := newTestManager(t, &fakeDriver{}, afero.NewMemMapFs())

	res, err := m.ImportCookies([]byte(`[{"name":"SID","value":"x","domain":"notebooklm.google.com"}]`))
	if err != nil {
		t.Fatalf("ImportCookies: %v", err)
	}
	if res.Total != 1 || res.Relevant != 1 {
		t.Errorf("Total/Relevant = %d/%d, want 1/1", res.Total, res.Relevant)
	}
	if !m.IsAuthenticated() {
		t.Fatal("not authenticated after import")
	}
	info := m.Info()
	if info.Method != state.MethodCookieImport || info.SessionID == "" {
		t.Errorf("auth info = %+v", info.AuthInfo)
	}
	got, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	want := &state.StorageState{
		Cookies: []state.Cookie{{Name: "SID", Value: "x", Domain: "notebooklm.google.com", Path: "/", SameSite: "Lax"}},
		Origins: []state.Origin{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("saved state mismatch (-want +got):\n%s", diff)
	}
}

func TestImportCookiesKeepsStateOnError(t *testing.T) {
	m, store := newTestManager(t, &fakeDriver{}, afero.NewMemMapFs())
	if err := store.SaveState(loggedInState()); err != nil {
		t.Fatal(err)
	}

	for _, input := range []string{`{not json`, `{"items":[]}`, `[{"name":"a","value":"b","domain":"example.com"}]`} {
		if _, err := m.ImportCookies([]byte(input)); err == nil {
			t.Errorf("ImportCookies(%q) succeeded", input)
		}
	}
	got, err := store.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(loggedInState(), got); diff != "" {
		t.Errorf("state changed by failed import (-want +got):\n%s", diff)
	}
}

func TestImportCookiesFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m, _ := newTestManager(t, &fakeDriver{}, fsys)
	export := `{"url":"https://notebooklm.google.com","cookies":[{"name":"SID","value":"x","domain":".google.com","expirationDate":1767225600}]}`
	if err := afero.WriteFile(fsys, "/tmp/cookies.json", []byte(export), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ImportCookiesFile("/tmp/cookies.json"); err != nil {
		t.Fatalf("ImportCookiesFile: %v", err)
	}
	if _, err := m.ImportCookiesFile("/tmp/missing.json"); err == nil {
		t.Error("ImportCookiesFile succeeded on a missing file")
	}
	if _, err := m.ImportCookiesFile("/tmp/cookies.json"); err != nil {
		t.Fatalf("second import: %v", err)
	}

	if err := afero.WriteFile(fsys, "/tmp/bad.json", []byte(`nope`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ImportCookiesFile("/tmp/bad.json"); !errors.Is(err, cookies.ErrParse) {
		t.Errorf("ImportCookiesFile(bad) = %v, want %v", err, cookies.ErrParse)
	}
}

func TestClear(t *testing.T) {
	m, _ := newTestManager(t, &fakeDriver{}, afero.NewMemMapFs())
	if _, err := m.ImportCookies([]byte(`[{"name":"SID","value":"x","domain":".google.com"}]`)); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if m.IsAuthenticated() {
		t.Error("authenticated after Clear")
	}
	if err := m.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestTargetPattern(t *testing.T) {
	re := TargetPattern("https://notebooklm.google.com")
	tests := []struct {
		url  string
		want bool
	}{
		{"https://notebooklm.google.com/", true},
		{"https://notebooklm.google.com/notebook/1", true},
		{"https://notebooklm.google.com.evil.example/", false},
		{"https://accounts.google.com/?continue=https://notebooklm.google.com/", false},
		{"http://notebooklm.google.com/", false},
	}
	for _, tt := range tests {
		if got := re.MatchString(tt.url); got != tt.want {
			t.Errorf("match(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestLoginStateString(t *testing.T) {
	for s, want := range map[LoginState]string{
		NotStarted:     "not started",
		AwaitingLogin:  "awaiting login",
		Authenticated:  "authenticated",
		TimedOut:       "timed out",
		Failed:         "failed",
		LoginState(42): "LoginState(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
