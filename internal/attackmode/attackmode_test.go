package attackmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/template"
)

// TestSniperSingleSet: one marker, one set, N
// payloads yields N requests, each varying only that position.
func TestSniperSingleSet(t *testing.T) {
	parsed, err := template.Parse("GET /api/users/§user§ HTTP/1.1")
	require.NoError(t, err)

	sets := map[string][]string{"user": {"admin", "root", "guest"}}
	n, err := CountRequests(model.ModeSniper, parsed.Positions, sets)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	reqs, err := GenerateRequests(model.ModeSniper, parsed, sets)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, "GET /api/users/admin HTTP/1.1", reqs[0].Injected)
	assert.Equal(t, "GET /api/users/root HTTP/1.1", reqs[1].Injected)
	assert.Equal(t, "GET /api/users/guest HTTP/1.1", reqs[2].Injected)
	for i, r := range reqs {
		assert.Equal(t, i, r.Index)
	}
}

func TestBatteringRamBindsEveryPositionToFirstSet(t *testing.T) {
	parsed, err := template.Parse("GET /x?a=§user§&b=§pass§ HTTP/1.1")
	require.NoError(t, err)

	sets := map[string][]string{
		"user": {"A", "B"},
		"pass": {"ignored1", "ignored2", "ignored3"},
	}
	reqs, err := GenerateRequests(model.ModeBatteringRam, parsed, sets)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "GET /x?a=A&b=A HTTP/1.1", reqs[0].Injected)
	assert.Equal(t, "GET /x?a=B&b=B HTTP/1.1", reqs[1].Injected)
}

// TestPitchforkTruncatesToShortestSet pairs sets in lockstep and halts at
// the shortest one.
func TestPitchforkTruncatesToShortestSet(t *testing.T) {
	parsed, err := template.Parse("GET /x?a=§user§&b=§pass§ HTTP/1.1")
	require.NoError(t, err)

	sets := map[string][]string{
		"user": {"alice", "bob", "carol"},
		"pass": {"p1", "p2"},
	}
	n, err := CountRequests(model.ModePitchfork, parsed.Positions, sets)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reqs, err := GenerateRequests(model.ModePitchfork, parsed, sets)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "GET /x?a=alice&b=p1 HTTP/1.1", reqs[0].Injected)
	assert.Equal(t, "GET /x?a=bob&b=p2 HTTP/1.1", reqs[1].Injected)
}

// TestClusterBombEnumeratesCartesianProduct checks the full user x pass
// product comes out in order.
func TestClusterBombEnumeratesCartesianProduct(t *testing.T) {
	parsed, err := template.Parse("GET /x?a=§user§&b=§pass§ HTTP/1.1")
	require.NoError(t, err)

	sets := map[string][]string{
		"user": {"alice", "bob"},
		"pass": {"p1", "p2", "p3"},
	}
	n, err := CountRequests(model.ModeClusterBomb, parsed.Positions, sets)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	reqs, err := GenerateRequests(model.ModeClusterBomb, parsed, sets)
	require.NoError(t, err)
	require.Len(t, reqs, 6)

	assert.Equal(t, "GET /x?a=alice&b=p1 HTTP/1.1", reqs[0].Injected)
	assert.Equal(t, "GET /x?a=alice&b=p2 HTTP/1.1", reqs[1].Injected)
	assert.Equal(t, "GET /x?a=alice&b=p3 HTTP/1.1", reqs[2].Injected)
	assert.Equal(t, "GET /x?a=bob&b=p1 HTTP/1.1", reqs[3].Injected)
	assert.Equal(t, "GET /x?a=bob&b=p2 HTTP/1.1", reqs[4].Injected)
	assert.Equal(t, "GET /x?a=bob&b=p3 HTTP/1.1", reqs[5].Injected)

	for i, r := range reqs {
		assert.Equal(t, i, r.Index)
	}
}

func TestClusterBombRefusesOverMaximum(t *testing.T) {
	parsed, err := template.Parse("GET /x?a=§big1§&b=§big2§&c=§big3§ HTTP/1.1")
	require.NoError(t, err)

	big := make([]string, 300)
	for i := range big {
		big[i] = "v"
	}
	sets := map[string][]string{"big1": big, "big2": big, "big3": big}

	_, err = CountRequests(model.ModeClusterBomb, parsed.Positions, sets)
	assert.Error(t, err)

	_, err = GenerateRequests(model.ModeClusterBomb, parsed, sets)
	assert.Error(t, err)
}

func TestClusterBombEmptySetYieldsZeroRequests(t *testing.T) {
	parsed, err := template.Parse("GET /x?a=§user§&b=§pass§ HTTP/1.1")
	require.NoError(t, err)

	sets := map[string][]string{"user": {"alice"}, "pass": {}}
	n, err := CountRequests(model.ModeClusterBomb, parsed.Positions, sets)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	reqs, err := GenerateRequests(model.ModeClusterBomb, parsed, sets)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestUnknownModeIsError(t *testing.T) {
	parsed, err := template.Parse("GET /x?a=§user§ HTTP/1.1")
	require.NoError(t, err)

	_, err = CountRequests(model.AttackMode("bogus"), parsed.Positions, map[string][]string{"user": {"a"}})
	assert.Error(t, err)

	_, err = GenerateRequests(model.AttackMode("bogus"), parsed, map[string][]string{"user": {"a"}})
	assert.Error(t, err)
}
