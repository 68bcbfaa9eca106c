package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/tmc/nlmauth/internal/state"
)

// pollInterval backs up the navigation listener in WaitURL.
const pollInterval = 2 * time.Second

// localStorageJS collects the current origin's local storage.
const localStorageJS = `(() => {
	const entries = [];
	try {
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			entries.push({name: k, value: localStorage.getItem(k)});
		}
	} catch (e) {}
	return {origin: location.origin, localStorage: entries};
})()`

// Chrome drives a local Chromium-family browser through chromedp.
type Chrome struct {
	logger *slog.Logger
}

func NewChrome(logger *slog.Logger) *Chrome {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chrome{logger: logger}
}

func (c *Chrome) allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	windowSize := opts.WindowSize
	if windowSize == "" {
		windowSize = "1280,800"
	}
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("window-size", windowSize),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("remote-debugging-port", "0"),
	}
	execPath := opts.ExecPath
	if execPath == "" {
		execPath = findChrome()
	}
	if execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(execPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	return allocOpts
}

// Launch starts the browser and opens its first tab. Cancelling ctx kills
// the browser.
func (c *Chrome) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if opts.ProfileDir == "" {
		return nil, errors.New("launch browser: empty profile dir")
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions(opts)...)

	var ctxOpts []chromedp.ContextOption
	if c.logger.Enabled(ctx, slog.LevelDebug) {
		ctxOpts = append(ctxOpts, chromedp.WithLogf(func(format string, args ...any) {
			c.logger.Debug(fmt.Sprintf("chromedp: "+format, args...))
		}))
	}
	ctxOpts = append(ctxOpts, chromedp.WithErrorf(func(format string, args ...any) {
		c.logger.Debug(fmt.Sprintf("chromedp error: "+format, args...))
	}))
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	// An empty Run starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	c.logger.Debug("browser launched", "profile", opts.ProfileDir, "headless", opts.Headless)
	return &chromeSession{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      c.logger,
	}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger
	closed      bool
}

// bind derives a context from the browser context that also honors the
// caller's deadline and cancellation.
func (s *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(s.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		rctx, cancelDeadline = context.WithDeadline(rctx, dl)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return rctx, func() { stop(); cancel() }
}

func (s *chromeSession) Navigate(ctx context.Context, url string) (string, error) {
	rctx, cancel := s.bind(ctx)
	defer cancel()

	var loc string
	if err := chromedp.Run(rctx, chromedp.Navigate(url), chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	s.logger.Debug("navigation landed", "url", loc)
	return loc, nil
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	rctx, cancel := s.bind(ctx)
	defer cancel()

	var loc string
	if err := chromedp.Run(rctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (s *chromeSession) WaitURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	rctx, cancel := s.bind(ctx)
	defer cancel()
	rctx, cancelTimeout := context.WithTimeout(rctx, timeout)
	defer cancelTimeout()

	urls := make(chan string, 16)
	chromedp.ListenTarget(rctx, func(ev any) {
		if ev, ok := ev.(*page.EventFrameNavigated); ok && ev.Frame != nil && ev.Frame.ParentID == "" {
			select {
			case urls <- ev.Frame.URL:
			default:
			}
		}
	})

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	check := func() (string, bool) {
		var loc string
		if err := chromedp.Run(rctx, chromedp.Location(&loc)); err != nil {
			return "", false
		}
		return loc, pattern.MatchString(loc)
	}
	if loc, ok := check(); ok {
		return loc, nil
	}
	for {
		select {
		case u := <-urls:
			s.logger.Debug("frame navigated", "url", u)
			if pattern.MatchString(u) {
				return u, nil
			}
		case <-ticker.C:
			if loc, ok := check(); ok {
				return loc, nil
			}
		case <-rctx.Done():
			if errors.Is(rctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w %s after %s", ErrTimeout, pattern, timeout)
			}
			return "", rctx.Err()
		}
	}
}

func (s *chromeSession) AddCookies(ctx context.Context, cookies []state.Cookie) error {
	rctx, cancel := s.bind(ctx)
	defer cancel()

	var set, failed int
	for _, c := range cookies {
		params, ok := setCookieParams(c)
		if !ok {
			failed++
			continue
		}
		if err := chromedp.Run(rctx, params); err != nil {
			if rctx.Err() != nil {
				return fmt.Errorf("inject cookies: %w", err)
			}
			s.logger.Debug("cookie rejected", "name", c.Name, "domain", c.Domain, "error", err)
			failed++
			continue
		}
		set++
	}
	s.logger.Debug("injected cookies", "set", set, "failed", failed)
	return nil
}

func (s *chromeSession) StorageState(ctx context.Context) (*state.StorageState, error) {
	rctx, cancel := s.bind(ctx)
	defer cancel()

	var cks []*network.Cookie
	if err := chromedp.Run(rctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cks, err = storage.GetCookies().Do(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	st := &state.StorageState{
		Cookies: make([]state.Cookie, 0, len(cks)),
		Origins: []state.Origin{},
	}
	for _, ck := range cks {
		st.Cookies = append(st.Cookies, fromNetworkCookie(ck))
	}

	var origin state.Origin
	if err := chromedp.Run(rctx, chromedp.Evaluate(localStorageJS, &origin)); err != nil {
		s.logger.Debug("skipping local storage", "error", err)
	} else if origin.Origin != "" && origin.Origin != "null" && len(origin.LocalStorage) > 0 {
		st.Origins = append(st.Origins, origin)
	}
	return st, nil
}

// Close shuts the browser down gracefully so the profile is flushed to
// disk, then releases the allocator. It is safe to call more than once.
func (s *chromeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func fromNetworkCookie(ck *network.Cookie) state.Cookie {
	expires := ck.Expires
	if ck.Session {
		expires = -1
	}
	sameSite := string(ck.SameSite)
	if sameSite == "" {
		sameSite = "Lax"
	}
	return state.Cookie{
		Name:     ck.Name,
		Value:    ck.Value,
		Domain:   ck.Domain,
		Path:     ck.Path,
		Secure:   ck.Secure,
		HTTPOnly: ck.HTTPOnly,
		SameSite: sameSite,
		Expires:  &expires,
	}
}

// setCookieParams builds the CDP call for c. Cookies without a domain
// cannot be placed and are skipped.
func setCookieParams(c state.Cookie) (*network.SetCookieParams, bool) {
	if c.Name == "" || c.Domain == "" {
		return nil, false
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	params := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(path).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)

	switch c.SameSite {
	case "Strict":
		params = params.WithSameSite(network.CookieSameSiteStrict)
	case "Lax":
		params = params.WithSameSite(network.CookieSameSiteLax)
	case "None":
		params = params.WithSameSite(network.CookieSameSiteNone)
	}
	if c.Expires != nil && *c.Expires > 0 {
		sec, frac := math.Modf(*c.Expires)
		exp := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
		params = params.WithExpires(&exp)
	}
	return params, true
}
