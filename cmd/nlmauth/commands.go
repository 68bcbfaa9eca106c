package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/tmc/nlmauth/internal/auth"
	"github.com/tmc/nlmauth/internal/config"
	"github.com/tmc/nlmauth/internal/cookies"
	"github.com/tmc/nlmauth/internal/state"
	"golang.org/x/term"
)

// parseFlags parses a subcommand's flags and rejects positional arguments.
// It returns flag.ErrHelp when usage was requested.
func parseFlags(fs *flag.FlagSet, usage string, args []string) error {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: nlmauth %s\n", usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return fmt.Errorf("invalid arguments")
	}
	return nil
}

// loginFlags registers the flags shared by setup and reauth.
func (a *app) loginFlags(name string) (*flag.FlagSet, *bool, *float64) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	headless := fs.Bool("headless", false, "run the browser without a window")
	timeout := fs.Float64("timeout", a.cfg.Login.TimeoutMinutes, "minutes to wait for the login to finish")
	return fs, headless, timeout
}

func (a *app) handleSetup(ctx context.Context, args []string) error {
	fs, headless, timeout := a.loginFlags("setup")
	if err := parseFlags(fs, "setup [-headless] [-timeout minutes]", args); err != nil {
		return helpOK(err)
	}
	if *timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", *timeout)
	}
	a.announceLogin(*timeout)
	res, err := a.manager.Setup(ctx, auth.WithHeadless(*headless), auth.WithTimeout(config.MinutesToDuration(*timeout)))
	return a.finishLogin(res, err)
}

func (a *app) handleReauth(ctx context.Context, args []string) error {
	fs, headless, timeout := a.loginFlags("reauth")
	if err := parseFlags(fs, "reauth [-headless] [-timeout minutes]", args); err != nil {
		return helpOK(err)
	}
	if *timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", *timeout)
	}
	fmt.Fprintf(os.Stderr, "nlmauth: clearing saved authentication\n")
	a.announceLogin(*timeout)
	res, err := a.manager.Reauth(ctx, auth.WithHeadless(*headless), auth.WithTimeout(config.MinutesToDuration(*timeout)))
	return a.finishLogin(res, err)
}

func (a *app) announceLogin(minutes float64) {
	fmt.Fprintf(os.Stderr, "nlmauth: opening browser at %s\n", a.cfg.TargetURL)
	fmt.Fprintf(os.Stderr, "nlmauth: log in to your Google account in the browser window (waiting up to %.1f minutes)\n", minutes)
}

func (a *app) finishLogin(res *auth.LoginResult, err error) error {
	if errors.Is(err, auth.ErrLoginTimeout) {
		return fmt.Errorf("%w; run 'nlmauth setup' to try again", err)
	}
	if err != nil {
		return fmt.Errorf("login %s: %w", res.State, err)
	}
	fmt.Printf("Authentication successful\n")
	fmt.Printf("Cookies saved: %d\n", res.Cookies)
	fmt.Printf("State file: %s\n", a.cfg.StateFile())
	return nil
}

func (a *app) handleStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print status as JSON")
	if err := parseFlags(fs, "status [-json]", args); err != nil {
		return helpOK(err)
	}

	info := a.manager.Info()
	if a.cfg.Debug {
		spew.Fdump(os.Stderr, info)
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printStatus(os.Stdout, info, a.cfg.StaleDuration().String())
	return nil
}

func printStatus(w io.Writer, info state.Info, staleAfter string) {
	yes := "No"
	if info.Authenticated {
		yes = "Yes"
	}
	fmt.Fprintf(w, "Authenticated: %s\n", yes)
	if info.StateExists {
		fmt.Fprintf(w, "State age: %.1f hours\n", info.StateAgeHours)
	}
	if info.AuthenticatedAtISO != "" {
		fmt.Fprintf(w, "Last auth: %s\n", info.AuthenticatedAtISO)
	}
	if info.Method != "" {
		fmt.Fprintf(w, "Method: %s\n", info.Method)
	}
	if info.SessionID != "" {
		fmt.Fprintf(w, "Session: %s\n", info.SessionID)
	}
	fmt.Fprintf(w, "State file: %s\n", info.StateFile)
	if info.Stale {
		fmt.Fprintf(w, "Warning: state is older than %s; consider running 'nlmauth reauth'\n", staleAfter)
	}
}

func (a *app) handleValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := parseFlags(fs, "validate", args); err != nil {
		return helpOK(err)
	}
	err := a.manager.Validate(ctx)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		return fmt.Errorf("%w; run 'nlmauth setup' or 'nlmauth import-cookies' first", err)
	}
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Printf("Authentication is valid\n")
	return nil
}

func (a *app) handleClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	if err := parseFlags(fs, "clear", args); err != nil {
		return helpOK(err)
	}
	if err := a.manager.Clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	fmt.Printf("Authentication data cleared\n")
	return nil
}

func (a *app) handleImportCookies(args []string) error {
	fs := flag.NewFlagSet("import-cookies", flag.ContinueOnError)
	file := fs.String("file", "", "read the cookie export from `path`")
	jsonStr := fs.String("json", "", "cookie export given inline")
	if err := parseFlags(fs, "import-cookies [-file path | -json string]", args); err != nil {
		return helpOK(err)
	}

	var (
		res *auth.ImportResult
		err error
	)
	switch {
	case *file != "" && *jsonStr != "":
		return fmt.Errorf("use only one of -file and -json")
	case *file != "":
		res, err = a.manager.ImportCookiesFile(*file)
	case *jsonStr != "":
		res, err = a.manager.ImportCookies([]byte(*jsonStr))
	default:
		var data []byte
		data, err = readCookieInput(os.Stdin, term.IsTerminal(int(os.Stdin.Fd())), os.Stderr)
		if err == nil {
			res, err = a.manager.ImportCookies(data)
		}
	}
	if err != nil {
		return fmt.Errorf("import cookies: %w", err)
	}

	fmt.Printf("Imported %d cookies (%d for %s)\n", res.Total, res.Relevant, a.cfg.CookieDomain)
	fmt.Printf("State file: %s\n", a.cfg.StateFile())
	return nil
}

// readCookieInput reads an export from stdin. A terminal gets paste
// instructions and line-by-line reading; piped input is read whole.
func readCookieInput(r io.Reader, interactive bool, prompt io.Writer) ([]byte, error) {
	if interactive {
		fmt.Fprintf(prompt, "Export your NotebookLM cookies as JSON with a browser extension\n")
		fmt.Fprintf(prompt, "(EditThisCookie or Cookie-Editor), paste them below and finish with an empty line:\n")
		s, err := cookies.ReadPasted(r)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, cookies.ErrNoInput
	}
	return data, nil
}

// helpOK treats an explicit -h as success.
func helpOK(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}
