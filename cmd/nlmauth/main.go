package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmc/nlmauth/internal/auth"
	"github.com/tmc/nlmauth/internal/browser"
	"github.com/tmc/nlmauth/internal/config"
	"github.com/tmc/nlmauth/internal/state"
)

// Global flags
var (
	debug      bool
	configFile string
	dataDir    string
)

func init() {
	flag.BoolVar(&debug, "debug", false, "enable debug output (or set NLM_DEBUG=1)")
	flag.StringVar(&configFile, "config", "", "config file (default <dir>/config.toml)")
	flag.StringVar(&dataDir, "dir", "", "auth data directory (or set NLM_AUTH_DIR, default ~/.nlm/auth)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nlmauth [flags] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  setup [-headless] [-timeout minutes]   Log in through a browser and save the session\n")
		fmt.Fprintf(os.Stderr, "  status [-json]                         Show saved authentication state\n")
		fmt.Fprintf(os.Stderr, "  validate                               Check that the saved session still works\n")
		fmt.Fprintf(os.Stderr, "  clear                                  Delete saved state and the browser profile\n")
		fmt.Fprintf(os.Stderr, "  reauth [-headless] [-timeout minutes]  Clear everything, then run setup\n")
		fmt.Fprintf(os.Stderr, "  import-cookies [-file path | -json s]  Import cookies exported by a browser extension\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  NLM_AUTH_DIR      Auth data directory\n")
		fmt.Fprintf(os.Stderr, "  NLM_BROWSER_PATH  Browser executable\n")
		fmt.Fprintf(os.Stderr, "  NLM_DEBUG         Enable debug output\n")
	}
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nlmauth: %v\n", err)
		os.Exit(1)
	}
}

var validCommands = []string{
	"help", "-h", "--help",
	"setup", "status", "validate", "clear", "reauth", "import-cookies",
}

func isValidCommand(cmd string) bool {
	for _, valid := range validCommands {
		if cmd == valid {
			return true
		}
	}
	return false
}

func run() error {
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if !isValidCommand(cmd) {
		fmt.Fprintf(os.Stderr, "nlmauth: unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		flag.Usage()
		return nil
	}

	// -dir goes through the environment so it also selects the config file.
	if dataDir != "" {
		os.Setenv("NLM_AUTH_DIR", dataDir)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}

	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)
	logger.Debug("config loaded", "dir", cfg.DataDir, "target", cfg.TargetURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCmd(ctx, newApp(cfg, logger), cmd, args)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type app struct {
	cfg     *config.Config
	manager *auth.Manager
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	store := state.New(cfg, state.WithLogger(logger))
	return &app{
		cfg:     cfg,
		manager: auth.New(cfg, store, browser.NewChrome(logger), auth.WithLogger(logger)),
	}
}

func runCmd(ctx context.Context, a *app, cmd string, args []string) error {
	switch cmd {
	case "setup":
		return a.handleSetup(ctx, args)
	case "status":
		return a.handleStatus(args)
	case "validate":
		return a.handleValidate(ctx, args)
	case "clear":
		return a.handleClear(args)
	case "reauth":
		return a.handleReauth(ctx, args)
	case "import-cookies":
		return a.handleImportCookies(args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}
