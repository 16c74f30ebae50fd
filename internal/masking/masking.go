// Package masking redacts sensitive fields before they reach a log sink or
// a broadcast subscriber: session cookies, auth headers, secret-bearing URL
// parameters and secret-shaped key/value pairs in bodies.
package masking

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Masker is the contract consumed by the rest of the engine.
type Masker interface {
	MaskText(s string) string
	MaskRequest(req RequestView) RequestView
	MaskResponse(resp ResponseView) ResponseView
	MaskSession(sess SessionView) SessionView
	ValidateMaskedOutput(s string) error
}

// RequestView, ResponseView and SessionView are minimal structural views the
// masker needs; the real Request/Response/Session types (internal/*) satisfy
// them via small adapter methods so this package stays dependency-free of
// the domain model.
type RequestView struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

type ResponseView struct {
	Headers map[string]string
	Body    []byte
}

type SessionView struct {
	Headers map[string]string
	Cookies map[string]string
}

// Config controls which fields are sensitive and how they are elided.
type Config struct {
	Enabled            bool
	ReplacementText    string
	SensitiveHeaders   []string // case-insensitive header names
	SensitiveCookies   []string // case-insensitive cookie names
	SensitiveURLParams []string
	BodyPatterns       []string // regexes matching "key"/"value" pairs in bodies
	ElidePrefixSuffix  bool     // when true, use first_n***last_n instead of full replacement
	ElidePrefixN       int
	ElideSuffixN       int
}

// DefaultConfig covers the usual secret-bearing names
// (password/secret/token/apikey/private_key) plus the HTTP-specific fields
// an orchestrator actually handles (session cookies, auth headers).
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		ReplacementText: "***REDACTED***",
		SensitiveHeaders: []string{
			"authorization", "cookie", "set-cookie", "x-api-key", "x-auth-token",
		},
		SensitiveCookies:   []string{"session", "sessionid", "auth", "token"},
		SensitiveURLParams: []string{"token", "apikey", "api_key", "password", "secret"},
		BodyPatterns: []string{
			`(?i)(api[_-]?key|apikey)(["']?\s*[:=]\s*)["']?([^"'\s,}&]+)["']?`,
			`(?i)(secret|token|auth)(["']?\s*[:=]\s*)["']?([^"'\s,}&]+)["']?`,
			`(?i)(password|passwd|pwd)(["']?\s*[:=]\s*)["']?([^"'\s,}&]+)["']?`,
			`(?i)Bearer\s+([a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+)`,
			`(?i)(private[_-]?key|privkey)(["']?\s*[:=]\s*)["']?([^"'\s,}&]+)["']?`,
		},
	}
}

// secureMasker is the default Masker implementation. Regex compilation
// happens eagerly at construction time; an invalid pattern from user config
// is skipped rather than treated as fatal, so compiledPatterns can be
// shorter than Config.BodyPatterns.
type secureMasker struct {
	cfg              Config
	compiledPatterns []*regexp.Regexp
	canonical        []*regexp.Regexp
	skipped          []string
}

// New builds a Masker from cfg.
func New(cfg Config) Masker {
	if cfg.ReplacementText == "" {
		cfg.ReplacementText = "***REDACTED***"
	}
	m := &secureMasker{cfg: cfg}
	for _, p := range cfg.BodyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			m.skipped = append(m.skipped, p)
			continue
		}
		m.compiledPatterns = append(m.compiledPatterns, re)
	}
	// The canonical set is used by ValidateMaskedOutput and is independent
	// of user config: it must catch masking failures even if the user
	// disabled or narrowed their own BodyPatterns.
	for _, p := range DefaultConfig().BodyPatterns {
		re, err := regexp.Compile(p)
		if err == nil {
			m.canonical = append(m.canonical, re)
		}
	}
	return m
}

func (m *secureMasker) MaskText(s string) string {
	if !m.cfg.Enabled {
		return s
	}
	out := s
	for _, re := range m.compiledPatterns {
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			groups := re.FindStringSubmatch(match)
			if len(groups) >= 3 {
				return groups[1] + groups[2] + m.elide(groups[len(groups)-1])
			}
			return m.elide(match)
		})
	}
	return out
}

func (m *secureMasker) elide(value string) string {
	if !m.cfg.ElidePrefixSuffix {
		return m.cfg.ReplacementText
	}
	n, sfx := m.cfg.ElidePrefixN, m.cfg.ElideSuffixN
	if len(value) <= n+sfx {
		return m.cfg.ReplacementText
	}
	return fmt.Sprintf("%s***%s", value[:n], value[len(value)-sfx:])
}

func (m *secureMasker) isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range m.cfg.SensitiveHeaders {
		if strings.EqualFold(h, lower) {
			return true
		}
	}
	return false
}

func (m *secureMasker) maskHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if !m.cfg.Enabled {
			out[k] = v
			continue
		}
		if m.isSensitiveHeader(k) {
			out[k] = m.elide(v)
		} else {
			out[k] = m.MaskText(v)
		}
	}
	return out
}

func (m *secureMasker) maskURL(raw string) string {
	if !m.cfg.Enabled || raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return m.MaskText(raw)
	}
	q := u.Query()
	changed := false
	for _, sensitive := range m.cfg.SensitiveURLParams {
		for key := range q {
			if strings.EqualFold(key, sensitive) {
				q.Set(key, m.cfg.ReplacementText)
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (m *secureMasker) MaskRequest(req RequestView) RequestView {
	return RequestView{
		URL:     m.maskURL(req.URL),
		Headers: m.maskHeaders(req.Headers),
		Body:    []byte(m.MaskText(string(req.Body))),
	}
}

func (m *secureMasker) MaskResponse(resp ResponseView) ResponseView {
	return ResponseView{
		Headers: m.maskHeaders(resp.Headers),
		Body:    []byte(m.MaskText(string(resp.Body))),
	}
}

func (m *secureMasker) isSensitiveCookie(name string) bool {
	lower := strings.ToLower(name)
	for _, c := range m.cfg.SensitiveCookies {
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

func (m *secureMasker) MaskSession(sess SessionView) SessionView {
	out := SessionView{
		Headers: m.maskHeaders(sess.Headers),
		Cookies: make(map[string]string, len(sess.Cookies)),
	}
	for k, v := range sess.Cookies {
		if m.cfg.Enabled && m.isSensitiveCookie(k) {
			out.Cookies[k] = m.elide(v)
		} else {
			out.Cookies[k] = v
		}
	}
	return out
}

// ErrMaskViolation is returned by ValidateMaskedOutput when a canonical
// sensitive pattern still matches after masking.
type ErrMaskViolation struct {
	Pattern string
}

func (e *ErrMaskViolation) Error() string {
	return fmt.Sprintf("masked output still matches sensitive pattern %q", e.Pattern)
}

func (m *secureMasker) ValidateMaskedOutput(s string) error {
	for _, re := range m.canonical {
		if re.MatchString(s) {
			groups := re.FindStringSubmatch(s)
			// A match against the replacement text itself is not a
			// violation: the canonical patterns look for a live
			// secret-shaped value, which the replacement text never is.
			if len(groups) > 0 && strings.Contains(groups[0], m.cfg.ReplacementText) {
				continue
			}
			return &ErrMaskViolation{Pattern: re.String()}
		}
	}
	return nil
}
