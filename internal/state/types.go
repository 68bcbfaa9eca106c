package state

import "time"

// StorageState is the browser session snapshot. Its JSON form is the
// storage-state format the browser automation engine restores sessions from,
// so field names and shapes must not change.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Cookie is a single cookie in storage-state form.
// Expires is in seconds since the epoch; -1 marks a session cookie.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Secure   bool     `json:"secure"`
	HTTPOnly bool     `json:"httpOnly"`
	SameSite string   `json:"sameSite"`
	Expires  *float64 `json:"expires,omitempty"`
}

// Origin carries per-origin local storage.
type Origin struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Authentication methods recorded in AuthInfo.
const (
	MethodBrowserLogin = "browser_login"
	MethodCookieImport = "cookie_import"
)

// AuthInfo is advisory metadata about the last successful authentication.
// Nothing depends on it for correctness.
type AuthInfo struct {
	AuthenticatedAt    float64 `json:"authenticated_at,omitempty"`
	AuthenticatedAtISO string  `json:"authenticated_at_iso,omitempty"`
	Method             string  `json:"method,omitempty"`
	SessionID          string  `json:"session_id,omitempty"`
}

// Time returns AuthenticatedAt as a time.Time.
func (a AuthInfo) Time() time.Time {
	sec := int64(a.AuthenticatedAt)
	nsec := int64((a.AuthenticatedAt - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Info is the combined view reported by status: file facts merged with
// whatever AuthInfo could be read.
type Info struct {
	Authenticated bool    `json:"authenticated"`
	StateFile     string  `json:"state_file"`
	StateExists   bool    `json:"state_exists"`
	StateAgeHours float64 `json:"state_age_hours,omitempty"`
	Stale         bool    `json:"stale"`

	AuthInfo
}
