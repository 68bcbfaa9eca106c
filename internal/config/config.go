// Package config holds the on-disk layout and tunables for nlmauth.
//
// A Config is built once by the command and passed to the state store and
// the browser driver. Nothing in the module reads paths from globals.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the optional configuration file looked up inside the data dir.
const FileName = "config.toml"

const (
	defaultTargetURL       = "https://notebooklm.google.com"
	defaultLoginHost       = "accounts.google.com"
	defaultCookieDomain    = "google.com"
	defaultStaleAfter      = "168h"
	defaultValidateTimeout = "30s"
	defaultLoginMinutes    = 10
	defaultWindowSize      = "1280,800"
)

type Config struct {
	// DataDir holds the browser profile, the storage state and the auth info.
	DataDir string `toml:"data_dir"`

	TargetURL    string `toml:"target_url"`
	LoginHost    string `toml:"login_host"`
	CookieDomain string `toml:"cookie_domain"` // root domain an import must contain
	StaleAfter   string `toml:"stale_after"`   // e.g. "168h"

	Browser BrowserConfig `toml:"browser"`
	Login   LoginConfig   `toml:"login"`

	Debug bool `toml:"debug"`
}

type BrowserConfig struct {
	ExecPath        string `toml:"exec_path"`
	UserAgent       string `toml:"user_agent"`
	WindowSize      string `toml:"window_size"`
	NoSandbox       bool   `toml:"no_sandbox"`
	ValidateTimeout string `toml:"validate_timeout"` // e.g. "30s"
}

type LoginConfig struct {
	TimeoutMinutes float64 `toml:"timeout_minutes"`
}

// Default returns the built-in configuration rooted at ~/.nlm/auth.
func Default() *Config {
	dir := filepath.Join(".nlm", "auth")
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, dir)
	}
	return &Config{
		DataDir:      dir,
		TargetURL:    defaultTargetURL,
		LoginHost:    defaultLoginHost,
		CookieDomain: defaultCookieDomain,
		StaleAfter:   defaultStaleAfter,
		Browser: BrowserConfig{
			WindowSize:      defaultWindowSize,
			ValidateTimeout: defaultValidateTimeout,
		},
		Login: LoginConfig{
			TimeoutMinutes: defaultLoginMinutes,
		},
	}
}

// Load builds a Config from defaults, the environment and an optional TOML
// file. When path is empty, config.toml inside the data dir is used if it
// exists. Environment variables win over the file so a test can redirect
// the data dir without editing configuration.
func Load(path string) (*Config, error) {
	cfg := Default()
	applyEnv(cfg)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		applyEnv(cfg)
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NLM_AUTH_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NLM_BROWSER_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}
	if v := os.Getenv("NLM_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil {
		return fmt.Errorf("invalid target_url %q: %w", c.TargetURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid target_url %q: need scheme and host", c.TargetURL)
	}
	if c.LoginHost == "" {
		return fmt.Errorf("login_host must not be empty")
	}
	if c.CookieDomain == "" {
		return fmt.Errorf("cookie_domain must not be empty")
	}
	if _, err := time.ParseDuration(c.StaleAfter); err != nil {
		return fmt.Errorf("invalid stale_after %q: %w", c.StaleAfter, err)
	}
	if _, err := time.ParseDuration(c.Browser.ValidateTimeout); err != nil {
		return fmt.Errorf("invalid browser.validate_timeout %q: %w", c.Browser.ValidateTimeout, err)
	}
	if c.Login.TimeoutMinutes <= 0 {
		return fmt.Errorf("login.timeout_minutes must be positive, got %v", c.Login.TimeoutMinutes)
	}
	return nil
}

// ProfileDir is the persistent browser user-data directory.
func (c *Config) ProfileDir() string { return filepath.Join(c.DataDir, "browser_profile") }

// StateFile is the storage-state JSON consumed by the browser engine.
func (c *Config) StateFile() string { return filepath.Join(c.DataDir, "state.json") }

// AuthInfoFile is the advisory auth metadata.
func (c *Config) AuthInfoFile() string { return filepath.Join(c.DataDir, "auth_info.json") }

// TargetHost is the host part of TargetURL.
func (c *Config) TargetHost() string {
	u, err := url.Parse(c.TargetURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// StaleDuration returns StaleAfter parsed, falling back to seven days.
func (c *Config) StaleDuration() time.Duration {
	d, err := time.ParseDuration(c.StaleAfter)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// ValidateTimeout returns Browser.ValidateTimeout parsed, falling back to 30s.
func (c *Config) ValidateTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.ValidateTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MinutesToDuration converts a fractional minute count from the command line.
func MinutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}
