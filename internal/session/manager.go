// Package session implements the session manager: applying sessions to
// requests, authentication-failure detection, validation caching and
// profile selection/ranking.
package session

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
)

// EventKind is the closed set of session lifecycle events.
type EventKind string

const (
	EventCreated          EventKind = "created"
	EventUsed             EventKind = "used"
	EventValidated        EventKind = "validated"
	EventValidationFailed EventKind = "validation_failed"
)

// Event is one published session lifecycle transition.
type Event struct {
	Kind      EventKind
	SessionID string
	At        time.Time
}

// ExpirationPolicy governs ApplySessionToRequest's behavior when a session
// is Expired or Invalid.
type ExpirationPolicy string

const (
	PolicyFail                   ExpirationPolicy = "fail"
	PolicyContinueWithoutSession ExpirationPolicy = "continue_without_session"
	PolicyAttemptRefresh         ExpirationPolicy = "attempt_refresh"
	PolicyUseFallback            ExpirationPolicy = "use_fallback"
)

// Refresher is the external collaborator that performs the concrete
// re-login mechanism for a profile reference.
type Refresher interface {
	RequestRefresh(ctx context.Context, profileRef string) error
}

// AuthFailureRules configures DetectAuthFailure's predicate set.
type AuthFailureRules struct {
	StatusCodes          map[int]bool
	BodySubstrings       []string
	HeaderPatterns       map[string]*regexp.Regexp // header name -> pattern
	LoginRedirectPattern *regexp.Regexp            // matched against Location
}

// DefaultAuthFailureRules mirrors common reverse-proxy auth-failure signals.
func DefaultAuthFailureRules() AuthFailureRules {
	return AuthFailureRules{
		StatusCodes:    map[int]bool{401: true, 403: true},
		BodySubstrings: []string{"session expired", "please log in", "unauthorized"},
		HeaderPatterns: map[string]*regexp.Regexp{
			"WWW-Authenticate": regexp.MustCompile(`(?i)bearer|basic`),
		},
		LoginRedirectPattern: regexp.MustCompile(`(?i)/(login|signin|sso)`),
	}
}

const validationCacheTTL = 5 * time.Minute

type validationCacheEntry struct {
	validAt time.Time
}

// Manager owns the id->Session map and publishes lifecycle events on a
// buffered channel; callers that don't drain Events() simply miss events,
// mirroring the coordinator's lossy broadcast discipline.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[string]model.Session
	validationCache map[string]validationCacheEntry
	failures        map[string][]time.Time // sessionID -> auth-failure timestamps, 24h window
	events          chan Event
	rules           AuthFailureRules
	refresher       Refresher
	jwtSecret       []byte
}

// New creates a Manager. jwtSecret may be nil if profile claims are never
// parsed in this deployment.
func New(refresher Refresher, rules AuthFailureRules, jwtSecret []byte) *Manager {
	return &Manager{
		sessions:        make(map[string]model.Session),
		validationCache: make(map[string]validationCacheEntry),
		failures:        make(map[string][]time.Time),
		events:          make(chan Event, 1024),
		rules:           rules,
		refresher:       refresher,
		jwtSecret:       jwtSecret,
	}
}

// Events returns the channel session lifecycle events are published on.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) publish(kind EventKind, sessionID string) {
	select {
	case m.events <- Event{Kind: kind, SessionID: sessionID, At: time.Now()}:
	default:
	}
}

func sessionExpiredErr(reason string) error {
	return errortax.New(errortax.KindSessionExpired, reason)
}

// Add stores a validated session and emits Created.
func (m *Manager) Add(s model.Session) error {
	if err := s.Validate(); err != nil {
		return errortax.Wrap(errortax.KindValidationError, "invalid session", err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.publish(EventCreated, s.ID)
	return nil
}

// Get returns a copy of a stored session.
func (m *Manager) Get(id string) (model.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deletes a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.validationCache, id)
	delete(m.failures, id)
}

// List returns a snapshot of all sessions.
func (m *Manager) List() []model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplySessionToRequest resolves sessionID and, when the session is Active
// and unexpired, injects its headers (overriding on collision, with a
// warning per override) and folds its cookies into a single Cookie header.
// Expired/Invalid sessions are handled per policy.
func (m *Manager) ApplySessionToRequest(ctx context.Context, req model.Request, sessionID string, policy ExpirationPolicy) (model.Request, []string, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return req, nil, sessionExpiredErr(fmt.Sprintf("session %q not found", sessionID))
	}

	now := time.Now()
	active := s.Status == model.SessionActive && !s.IsExpired(now)
	if !active {
		return m.applyWithPolicy(ctx, req, s, policy)
	}

	out, warnings := applySessionHeaders(req, s)

	m.mu.Lock()
	s.Metadata.UsageCount++
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.publish(EventUsed, s.ID)

	return out, warnings, nil
}

func applySessionHeaders(req model.Request, s model.Session) (model.Request, []string) {
	out := req
	var warnings []string

	names := make([]string, 0, len(s.Headers))
	for name := range s.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, existed := out.HeaderValue(name); existed {
			warnings = append(warnings, fmt.Sprintf("session header %q overrides existing request header", name))
		}
		out = out.WithHeader(name, s.Headers[name])
	}

	if len(s.Cookies) > 0 {
		parts := make([]string, 0, len(s.Cookies))
		for _, c := range s.Cookies {
			parts = append(parts, c.Name+"="+c.Value)
		}
		cookieHeader := strings.Join(parts, "; ")
		if _, existed := out.HeaderValue("Cookie"); existed {
			warnings = append(warnings, `session header "Cookie" overrides existing request header`)
		}
		out = out.WithHeader("Cookie", cookieHeader)
	}

	return out, warnings
}

func (m *Manager) applyWithPolicy(ctx context.Context, req model.Request, s model.Session, policy ExpirationPolicy) (model.Request, []string, error) {
	switch policy {
	case PolicyContinueWithoutSession:
		return req, []string{fmt.Sprintf("session %q is %s; continuing without it", s.ID, s.Status)}, nil
	case PolicyAttemptRefresh:
		if m.refresher == nil || s.ProfileRef == "" {
			return req, nil, sessionExpiredErr(fmt.Sprintf("session %q cannot be refreshed: no profile reference configured", s.ID))
		}
		if err := m.refresher.RequestRefresh(ctx, s.ProfileRef); err != nil {
			return req, nil, errortax.Wrap(errortax.KindSessionExpired, "session refresh failed", err)
		}
		return req, []string{fmt.Sprintf("session %q refresh requested", s.ID)}, nil
	case PolicyUseFallback:
		return req, []string{fmt.Sprintf("session %q is %s; falling back to unauthenticated request", s.ID, s.Status)}, nil
	case PolicyFail:
		fallthrough
	default:
		return req, nil, sessionExpiredErr(fmt.Sprintf("session %q is %s", s.ID, s.Status))
	}
}

// DetectAuthFailure inspects resp against the configured predicate set.
// On a match, the session is transitioned to Invalid, a failure is recorded
// in a rolling 24h window, a ValidationFailed event is emitted, and, if a
// profile reference exists, an external refresh is requested.
func (m *Manager) DetectAuthFailure(ctx context.Context, sessionID string, resp model.Response) bool {
	matched := m.matchesAuthFailure(resp)
	if !matched {
		return false
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		s.Status = model.SessionInvalid
		m.sessions[sessionID] = s
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	kept := m.failures[sessionID][:0]
	for _, ts := range m.failures[sessionID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.failures[sessionID] = append(kept, time.Now())
	profileRef := s.ProfileRef
	m.mu.Unlock()

	if ok {
		m.publish(EventValidationFailed, sessionID)
	}
	if ok && profileRef != "" && m.refresher != nil {
		_ = m.refresher.RequestRefresh(ctx, profileRef)
	}
	return true
}

func (m *Manager) matchesAuthFailure(resp model.Response) bool {
	if m.rules.StatusCodes[resp.Status] {
		return true
	}
	body := string(resp.Body)
	for _, sub := range m.rules.BodySubstrings {
		if sub != "" && strings.Contains(strings.ToLower(body), strings.ToLower(sub)) {
			return true
		}
	}
	for name, pattern := range m.rules.HeaderPatterns {
		if v, ok := resp.HeaderValue(name); ok && pattern.MatchString(v) {
			return true
		}
	}
	if m.rules.LoginRedirectPattern != nil {
		if v, ok := resp.HeaderValue("Location"); ok && m.rules.LoginRedirectPattern.MatchString(v) {
			return true
		}
	}
	return false
}

// FailuresInWindow returns the number of auth failures recorded for a
// session within the last 24 hours.
func (m *Manager) FailuresInWindow(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-24 * time.Hour)
	n := 0
	for _, ts := range m.failures[sessionID] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Validate is cached for 5 minutes per session/URL; on cache miss it defers
// to status/expiry heuristics. The signature leaves room for a probe-request
// implementation behind the same cache.
func (m *Manager) Validate(sessionID, url string) bool {
	key := sessionID + "|" + url
	m.mu.Lock()
	if entry, ok := m.validationCache[key]; ok && time.Since(entry.validAt) < validationCacheTTL {
		m.mu.Unlock()
		return true
	}
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	valid := ok && s.Status == model.SessionActive && !s.IsExpired(time.Now())
	if valid {
		m.mu.Lock()
		m.validationCache[key] = validationCacheEntry{validAt: time.Now()}
		s.Metadata.LastValidated = timePtr(time.Now())
		s.Metadata.LastValidationURL = url
		m.sessions[sessionID] = s
		m.mu.Unlock()
		m.publish(EventValidated, sessionID)
	} else {
		m.publish(EventValidationFailed, sessionID)
	}
	return valid
}

func timePtr(t time.Time) *time.Time { return &t }

// SelectionCriteria narrows candidates for Select.
type SelectionCriteria struct {
	PreferredProfileIDs   []string
	MaxValidationAge      time.Duration
	MinUsage              int
	ExcludeRecentFailures bool
}

// Select filters and ranks sessions: recently-validated first, then higher
// usage count.
func (m *Manager) Select(criteria SelectionCriteria) []model.Session {
	preferred := make(map[string]bool, len(criteria.PreferredProfileIDs))
	for _, p := range criteria.PreferredProfileIDs {
		preferred[p] = true
	}

	m.mu.RLock()
	candidates := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if len(preferred) > 0 && !preferred[s.ProfileRef] {
			continue
		}
		if s.Metadata.UsageCount < criteria.MinUsage {
			continue
		}
		if criteria.MaxValidationAge > 0 {
			if s.Metadata.LastValidated == nil || time.Since(*s.Metadata.LastValidated) > criteria.MaxValidationAge {
				continue
			}
		}
		if criteria.ExcludeRecentFailures && len(m.failures[s.ID]) > 0 {
			continue
		}
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		vi, vj := candidates[i].Metadata.LastValidated, candidates[j].Metadata.LastValidated
		switch {
		case vi != nil && vj == nil:
			return true
		case vi == nil && vj != nil:
			return false
		case vi != nil && vj != nil && !vi.Equal(*vj):
			return vi.After(*vj)
		}
		return candidates[i].Metadata.UsageCount > candidates[j].Metadata.UsageCount
	})
	return candidates
}

// ProfileClaims is the JWT payload carried by an external profile reference,
// used to recover the profile id and tenant without a network round-trip.
type ProfileClaims struct {
	ProfileID string `json:"profile_id"`
	Tenant    string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// ParseProfileClaims validates and decodes a JWT profile reference token.
func (m *Manager) ParseProfileClaims(tokenString string) (*ProfileClaims, error) {
	if len(m.jwtSecret) == 0 {
		return nil, errortax.New(errortax.KindConfigurationError, "session manager has no jwt secret configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &ProfileClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, errortax.Wrap(errortax.KindAuthenticationFailure, "invalid profile token", err)
	}
	claims, ok := token.Claims.(*ProfileClaims)
	if !ok || !token.Valid {
		return nil, errortax.New(errortax.KindAuthenticationFailure, "invalid profile token claims")
	}
	return claims, nil
}

// Refresh resolves sessionID's profile reference and requests an external
// refresh through the configured Refresher. Unlike the refresh paths folded
// into ApplySessionToRequest/DetectAuthFailure, this is not triggered by
// any particular request outcome.
func (m *Manager) Refresh(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return sessionExpiredErr(fmt.Sprintf("session %q not found", sessionID))
	}
	if s.ProfileRef == "" {
		return sessionExpiredErr(fmt.Sprintf("session %q has no profile reference to refresh from", sessionID))
	}
	if m.refresher == nil {
		return errortax.New(errortax.KindConfigurationError, "no session refresher configured")
	}
	if err := m.refresher.RequestRefresh(ctx, s.ProfileRef); err != nil {
		return errortax.Wrap(errortax.KindSessionExpired, "session refresh failed", err)
	}
	return nil
}
