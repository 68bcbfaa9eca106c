// Package cookies converts cookie exports from browser extensions
// (EditThisCookie, Cookie-Editor) into storage-state cookies.
//
// Importing exported cookies stands in for a live login. The persistent
// browser profile does not reliably pick up injected session cookies, so
// the exported set is written to the storage-state file and injected at
// launch instead.
package cookies

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/nlmauth/internal/state"
)

var (
	// ErrParse means the input is not JSON at all.
	ErrParse = errors.New("invalid JSON")
	// ErrFormat means the JSON is neither an array of cookies nor an
	// object with a "cookies" array.
	ErrFormat = errors.New(`invalid cookie format: expected an array or an object with a "cookies" key`)
	// ErrNoTargetCookies means no cookie belongs to the target root domain.
	ErrNoTargetCookies = errors.New("no target cookies found")
)

// Raw is one cookie object as an extension exported it.
type Raw map[string]json.RawMessage

// Parse decodes an export. Both a bare array and {"cookies": [...]} are
// accepted.
func Parse(data []byte) ([]Raw, error) {
	var top json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	list := top
	switch bytes.TrimSpace(top)[0] {
	case '[':
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(top, &obj); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		v, ok := obj["cookies"]
		if !ok {
			return nil, ErrFormat
		}
		list = v
	default:
		return nil, ErrFormat
	}

	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("%w: cookies is not an array", ErrFormat)
	}
	raws := make([]Raw, 0, len(items))
	for i, item := range items {
		var r Raw
		if err := json.Unmarshal(item, &r); err != nil || r == nil {
			return nil, fmt.Errorf("%w: cookie %d is not an object", ErrFormat, i)
		}
		raws = append(raws, r)
	}
	return raws, nil
}

// Relevant returns the cookies whose domain contains rootDomain.
func Relevant(raws []Raw, rootDomain string) []Raw {
	var out []Raw
	for _, r := range raws {
		if strings.Contains(r.str("domain", ""), rootDomain) {
			out = append(out, r)
		}
	}
	return out
}

// Normalize converts every cookie to storage-state form. Missing fields get
// path "/", secure false, httpOnly false and sameSite "Lax".
//
// Expiry comes from expirationDate when present, otherwise from expires.
// Numbers are used as is; strings are read as ISO-8601 timestamps. An
// expiry that cannot be read is dropped, which leaves a session cookie.
func Normalize(raws []Raw) []state.Cookie {
	out := make([]state.Cookie, 0, len(raws))
	for _, r := range raws {
		c := state.Cookie{
			Name:     r.str("name", ""),
			Value:    r.str("value", ""),
			Domain:   r.str("domain", ""),
			Path:     r.str("path", "/"),
			Secure:   r.boolean("secure"),
			HTTPOnly: r.boolean("httpOnly"),
			SameSite: SameSite(r.str("sameSite", "")),
		}
		if exp, ok := r.expiry(); ok {
			c.Expires = &exp
		}
		out = append(out, c)
	}
	return out
}

// Result is the outcome of Convert.
type Result struct {
	State    *state.StorageState
	Total    int
	Relevant int
}

// Convert parses an export and builds the storage state that replaces a
// live login. All cookies are kept, but at least one must belong to
// rootDomain.
func Convert(data []byte, rootDomain string) (*Result, error) {
	raws, err := Parse(data)
	if err != nil {
		return nil, err
	}
	relevant := Relevant(raws, rootDomain)
	if len(relevant) == 0 {
		return nil, fmt.Errorf("%w: export holds %d cookies, none for %s", ErrNoTargetCookies, len(raws), rootDomain)
	}
	return &Result{
		State: &state.StorageState{
			Cookies: Normalize(raws),
			Origins: []state.Origin{},
		},
		Total:    len(raws),
		Relevant: len(relevant),
	}, nil
}

// SameSite maps extension spellings onto the values the browser engine
// accepts. Anything unrecognized becomes "Lax".
func SameSite(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return "Strict"
	case "none", "no_restriction":
		return "None"
	default:
		return "Lax"
	}
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// str returns the field as a string. Non-string scalars keep their JSON
// text; missing and null fields yield def.
func (r Raw) str(key, def string) string {
	v, ok := r[key]
	if !ok || isNull(v) {
		return def
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}

func (r Raw) boolean(key string) bool {
	v, ok := r[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		b, _ = strconv.ParseBool(s)
	}
	return b
}

func (r Raw) expiry() (float64, bool) {
	if v, ok := r["expirationDate"]; ok {
		return expiryValue(v)
	}
	if v, ok := r["expires"]; ok {
		return expiryValue(v)
	}
	return 0, false
}

func expiryValue(v json.RawMessage) (float64, bool) {
	if isNull(v) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return 0, false
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9, true
}

var (
	zonedLayouts = []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02T15:04Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// ParseTimestamp reads an ISO-8601 timestamp. A trailing Z means UTC; a
// timestamp without an offset is taken as local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
