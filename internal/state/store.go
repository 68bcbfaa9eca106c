// Package state persists the browser storage state and auth metadata.
//
// "Authenticated" means the storage-state file exists. Its age only drives
// a staleness warning; nothing here expires a session.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/tmc/nlmauth/internal/config"
)

// ErrNoState is returned by LoadState when no storage state has been saved.
var ErrNoState = errors.New("no saved browser state")

// isoLayout matches the timestamp shape written to auth_info.json.
const isoLayout = "2006-01-02 15:04:05"

type Store struct {
	fs           afero.Fs
	dataDir      string
	stateFile    string
	authInfoFile string
	profileDir   string
	staleAfter   time.Duration

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type Option func(*Store)

// WithFs replaces the OS filesystem, typically with afero.NewMemMapFs in tests.
func WithFs(fsys afero.Fs) Option { return func(s *Store) { s.fs = fsys } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func New(cfg *config.Config, opts ...Option) *Store {
	s := &Store{
		fs:           afero.NewOsFs(),
		dataDir:      cfg.DataDir,
		stateFile:    cfg.StateFile(),
		authInfoFile: cfg.AuthInfoFile(),
		profileDir:   cfg.ProfileDir(),
		staleAfter:   cfg.StaleDuration(),
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the data and profile directories.
func (s *Store) Init() error {
	if err := s.fs.MkdirAll(s.dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := s.fs.MkdirAll(s.profileDir, 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	return nil
}

func (s *Store) StateFile() string  { return s.stateFile }
func (s *Store) ProfileDir() string { return s.profileDir }

// stateAge returns the age of the state file and whether it exists.
func (s *Store) stateAge() (time.Duration, bool) {
	fi, err := s.fs.Stat(s.stateFile)
	if err != nil {
		return 0, false
	}
	return s.now().Sub(fi.ModTime()), true
}

// IsAuthenticated reports whether a storage state has been saved. A state
// older than the stale threshold is still authenticated but logs a warning.
func (s *Store) IsAuthenticated() bool {
	age, ok := s.stateAge()
	if !ok {
		return false
	}
	if age > s.staleAfter {
		s.logger.Warn("browser state may need re-authentication",
			"age_days", fmt.Sprintf("%.1f", age.Hours()/24))
	}
	return true
}

// Info merges file facts with the saved AuthInfo. A missing or unreadable
// auth info file leaves those fields empty.
func (s *Store) Info() Info {
	info := Info{
		Authenticated: s.IsAuthenticated(),
		StateFile:     s.stateFile,
	}
	if age, ok := s.stateAge(); ok {
		info.StateExists = true
		info.StateAgeHours = age.Hours()
		info.Stale = age > s.staleAfter
	}
	ai, err := s.ReadAuthInfo()
	switch {
	case err == nil:
		info.AuthInfo = ai
	case !errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("ignoring unreadable auth info", "file", s.authInfoFile, "error", err)
	}
	return info
}

// LoadState reads the saved storage state.
func (s *Store) LoadState() (*StorageState, error) {
	data, err := afero.ReadFile(s.fs, s.stateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st StorageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.stateFile, err)
	}
	return &st, nil
}

// SaveState overwrites the storage state file.
func (s *Store) SaveState(st *StorageState) error {
	out := *st
	if out.Cookies == nil {
		out.Cookies = []Cookie{}
	}
	if out.Origins == nil {
		out.Origins = []Origin{}
	}
	if err := s.writeJSON(s.stateFile, out); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.logger.Debug("saved browser state", "file", s.stateFile, "cookies", len(out.Cookies))
	return nil
}

// ReadAuthInfo reads auth_info.json.
func (s *Store) ReadAuthInfo() (AuthInfo, error) {
	var ai AuthInfo
	data, err := afero.ReadFile(s.fs, s.authInfoFile)
	if err != nil {
		return ai, err
	}
	if err := json.Unmarshal(data, &ai); err != nil {
		return ai, fmt.Errorf("decode auth info: %w", err)
	}
	return ai, nil
}

// RecordAuth writes auth_info.json stamped with the current time.
func (s *Store) RecordAuth(method string) (AuthInfo, error) {
	now := s.now()
	ai := AuthInfo{
		AuthenticatedAt:    float64(now.Unix()) + float64(now.Nanosecond())/1e9,
		AuthenticatedAtISO: now.Format(isoLayout),
		Method:             method,
		SessionID:          s.newID(),
	}
	if err := s.writeJSON(s.authInfoFile, ai); err != nil {
		return ai, fmt.Errorf("save auth info: %w", err)
	}
	return ai, nil
}

// Clear removes the state file, the auth info file and everything in the
// browser profile, then recreates the empty profile directory. Missing
// files count as cleared. Every step runs even if an earlier one fails;
// the returned error joins all failures.
func (s *Store) Clear() error {
	var errs []error
	for _, name := range []string{s.stateFile, s.authInfoFile} {
		err := s.fs.Remove(name)
		switch {
		case err == nil:
			s.logger.Info("removed", "file", name)
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	if err := s.fs.RemoveAll(s.profileDir); err != nil {
		errs = append(errs, fmt.Errorf("remove profile %s: %w", s.profileDir, err))
	} else if err := s.fs.MkdirAll(s.profileDir, 0o700); err != nil {
		errs = append(errs, fmt.Errorf("recreate profile %s: %w", s.profileDir, err))
	} else {
		s.logger.Info("cleared browser profile", "dir", s.profileDir)
	}
	return errors.Join(errs...)
}

// writeJSON writes v as indented JSON through a temp file and rename so a
// failed write never truncates the previous file.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(name)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := afero.TempFile(s.fs, dir, "."+filepath.Base(name)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return nil
}
