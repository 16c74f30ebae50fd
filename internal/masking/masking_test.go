package masking

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskTextRedactsKeyValueSecrets(t *testing.T) {
	m := New(DefaultConfig())

	cases := []string{
		`password=hunter2`,
		`"api_key": "sk-1234567890"`,
		`token=abc123def`,
		`private_key: "MIIEvQIBADANBg"`,
	}
	for _, in := range cases {
		out := m.MaskText(in)
		assert.NotEqual(t, in, out, "input %q must be rewritten", in)
		assert.Contains(t, out, "***REDACTED***")
	}
}

func TestMaskTextPreservesDelimiterStructure(t *testing.T) {
	m := New(DefaultConfig())

	out := m.MaskText(`password=hunter2&user=alice`)
	assert.True(t, strings.HasPrefix(out, "password="), "key and delimiter must survive")
	assert.Contains(t, out, "user=alice", "non-sensitive parameters stay intact")
}

func TestMaskTextIsIdempotent(t *testing.T) {
	m := New(DefaultConfig())

	inputs := []string{
		`password=hunter2`,
		`{"token": "abc123", "name": "x"}`,
		`nothing sensitive here`,
	}
	for _, in := range inputs {
		once := m.MaskText(in)
		twice := m.MaskText(once)
		assert.Equal(t, once, twice)
	}
}

func TestValidateMaskedOutputAcceptsMaskedAndRejectsRaw(t *testing.T) {
	m := New(DefaultConfig())

	masked := m.MaskText(`password=hunter2`)
	assert.NoError(t, m.ValidateMaskedOutput(masked))

	err := m.ValidateMaskedOutput(`password=hunter2`)
	require.Error(t, err)
	var violation *ErrMaskViolation
	assert.ErrorAs(t, err, &violation)
}

func TestMaskRequestRedactsHeadersAndURLParams(t *testing.T) {
	m := New(DefaultConfig())

	out := m.MaskRequest(RequestView{
		URL: "https://example.test/login?token=s3cret&page=2",
		Headers: map[string]string{
			"Authorization": "Bearer abc.def.ghi",
			"Accept":        "application/json",
		},
		Body: []byte(`{"password": "hunter2"}`),
	})

	assert.NotContains(t, out.URL, "s3cret")
	assert.Contains(t, out.URL, "page=2")
	assert.Equal(t, "***REDACTED***", out.Headers["Authorization"])
	assert.Equal(t, "application/json", out.Headers["Accept"])
	assert.NotContains(t, string(out.Body), "hunter2")
}

func TestMaskSessionRedactsSensitiveCookies(t *testing.T) {
	m := New(DefaultConfig())

	out := m.MaskSession(SessionView{
		Cookies: map[string]string{
			"sessionid": "deadbeef",
			"theme":     "dark",
		},
	})
	assert.Equal(t, "***REDACTED***", out.Cookies["sessionid"])
	assert.Equal(t, "dark", out.Cookies["theme"])
}

func TestElidePrefixSuffixKeepsEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ElidePrefixSuffix = true
	cfg.ElidePrefixN = 2
	cfg.ElideSuffixN = 2
	m := New(cfg)

	out := m.MaskSession(SessionView{Cookies: map[string]string{"token": "abcdefgh"}})
	assert.Equal(t, "ab***gh", out.Cookies["token"])
}

func TestInvalidBodyPatternIsSkippedNotFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BodyPatterns = append(cfg.BodyPatterns, `([unclosed`)
	assert.NotPanics(t, func() {
		m := New(cfg)
		m.MaskText("password=hunter2")
	})
}

func TestSecureStringNeverLeaksWhileMasked(t *testing.T) {
	s := NewSecureString("hunter2")

	assert.True(t, s.IsMasked())
	assert.NotContains(t, fmt.Sprintf("%s", s), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v", s), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.Equal(t, "hunter2", s.Expose())
	assert.Equal(t, "hunter2", s.Unmasked().String())
}
