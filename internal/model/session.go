package model

import "time"

// SessionStatus tracks the lifecycle of an authenticated session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionInvalid    SessionStatus = "invalid"
	SessionValidating SessionStatus = "validating"
)

// SameSite mirrors the standard cookie attribute values.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// Cookie is one session cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expiry   *time.Time
	HTTPOnly bool
	Secure   bool
	SameSite SameSite
}

// SessionMetadata tracks usage/validation bookkeeping for a Session.
type SessionMetadata struct {
	UsageCount        int
	LastValidated     *time.Time
	LastValidationURL string
}

// Session bundles headers and cookies identifying an authenticated client,
// optionally refreshable via an external profile.
type Session struct {
	ID         string
	Name       string
	ProfileRef string
	Status     SessionStatus
	Expiry     *time.Time
	Headers    map[string]string
	Cookies    []Cookie
	Metadata   SessionMetadata
}

// Validate enforces the Session invariant: non-empty name, no empty
// header/cookie keys or values.
func (s Session) Validate() error {
	if s.Name == "" {
		return errEmptySessionName
	}
	for k, v := range s.Headers {
		if k == "" || v == "" {
			return errEmptySessionField
		}
	}
	for _, c := range s.Cookies {
		if c.Name == "" || c.Value == "" {
			return errEmptySessionField
		}
	}
	return nil
}

// IsExpired reports whether the session's expiry has passed relative to now.
func (s Session) IsExpired(now time.Time) bool {
	return s.Expiry != nil && s.Expiry.Before(now)
}

var (
	errEmptySessionName  = sessionErr("session name must not be empty")
	errEmptySessionField = sessionErr("session header/cookie keys and values must not be empty")
)

type sessionErr string

func (e sessionErr) Error() string { return string(e) }
