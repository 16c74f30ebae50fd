package template

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProducesSequentialPlaceholders(t *testing.T) {
	tmpl := "GET /api/login?user=§user§&pass=§pass§ HTTP/1.1"
	p, err := Parse(tmpl)
	require.NoError(t, err)
	assert.Equal(t, "GET /api/login?user={PAYLOAD_0}&pass={PAYLOAD_1} HTTP/1.1", p.Processed)
	require.Len(t, p.Positions, 2)
	assert.Equal(t, "user", p.Positions[0].SetID)
	assert.Equal(t, "pass", p.Positions[1].SetID)
	assert.Equal(t, 0, p.Positions[0].Index)
	assert.Equal(t, 1, p.Positions[1].Index)

	for i := range p.Positions {
		assert.Contains(t, p.Processed, "{PAYLOAD_"+strconv.Itoa(i)+"}")
	}
	assert.NotContains(t, p.Processed, "§")
}

func TestParseRefusesUnmatchedMarker(t *testing.T) {
	_, err := Parse("GET /x?a=§oops HTTP/1.1")
	assert.Error(t, err)
}

func TestParseRefusesEmptyMarkerBody(t *testing.T) {
	_, err := Parse("GET /x?a=§§ HTTP/1.1")
	assert.Error(t, err)
}

func TestParseRefusesPreexistingPlaceholder(t *testing.T) {
	_, err := Parse("GET /x?a={PAYLOAD_0} HTTP/1.1")
	assert.Error(t, err)
}

func TestInjectRoundTrip(t *testing.T) {
	tmpl := "GET /api/users/§user§ HTTP/1.1"
	p, err := Parse(tmpl)
	require.NoError(t, err)

	out, err := Inject(p, map[string]string{"user": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "GET /api/users/admin HTTP/1.1", out)
	assert.False(t, strings.Contains(out, "{PAYLOAD_"))
}

func TestInjectMissingSetIsError(t *testing.T) {
	tmpl := "GET /api/users/§user§ HTTP/1.1"
	p, err := Parse(tmpl)
	require.NoError(t, err)

	_, err = Inject(p, map[string]string{})
	assert.Error(t, err)
}
