package auth

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/tmc/nlmauth/internal/cookies"
	"github.com/tmc/nlmauth/internal/state"
)

// ImportResult summarizes a cookie import.
type ImportResult struct {
	Total    int // cookies in the export
	Relevant int // cookies for the target root domain
	Info     state.AuthInfo
}

// ImportCookies replaces the saved browser state with an extension cookie
// export. Existing state is left alone unless the export converts cleanly.
func (m *Manager) ImportCookies(data []byte) (*ImportResult, error) {
	res, err := cookies.Convert(data, m.cfg.CookieDomain)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveState(res.State); err != nil {
		return nil, err
	}
	m.logger.Info("imported cookies", "total", res.Total, "relevant", res.Relevant, "file", m.store.StateFile())
	return &ImportResult{
		Total:    res.Total,
		Relevant: res.Relevant,
		Info:     m.recordAuth(state.MethodCookieImport),
	}, nil
}

// ImportCookiesFile imports the export stored at path.
func (m *Manager) ImportCookiesFile(path string) (*ImportResult, error) {
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return m.ImportCookies(data)
}
