package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsuite/orchestrator/internal/model"
)

func sampleResult(status int, body string, highlighted bool) model.Result {
	return model.Result{
		ID:             "r1",
		AttackID:       "a1",
		Index:          0,
		Request:        model.Request{Method: model.MethodGet, URL: "http://example.test/"},
		Response:       &model.Response{Status: status, Body: []byte(body)},
		AgentID:        "agent-1",
		ExecutedAt:     time.Unix(1700000000, 0).UTC(),
		Duration:       250 * time.Millisecond,
		StatusCode:     status,
		ResponseLength: len(body),
		IsHighlighted:  highlighted,
	}
}

func TestDefaultRulesMatch4xxAnd5xx(t *testing.T) {
	rules := DefaultRules()

	matched, names, _ := Evaluate(rules, sampleResult(404, "not found", false))
	assert.True(t, matched)
	assert.Contains(t, names, "Client Error")

	matched, names, _ = Evaluate(rules, sampleResult(503, "down", false))
	assert.True(t, matched)
	assert.Contains(t, names, "Server Error")
}

func TestEvaluateReturnsFalseWithoutResponse(t *testing.T) {
	r := sampleResult(200, "", false)
	r.Response = nil
	matched, names, whys := Evaluate(DefaultRules(), r)
	assert.False(t, matched)
	assert.Nil(t, names)
	assert.Nil(t, whys)
}

func TestCombinedAndOrNot(t *testing.T) {
	min200, max299 := 200, 299
	containsOK := model.HighlightCondition{Kind: model.CondResponseContains, Text: "ok"}
	statusRange := model.HighlightCondition{Kind: model.CondStatusCodeRange, Min: &min200, Max: &max299}

	andCond := model.HighlightCondition{Kind: model.CondCombined, Op: model.CombineAnd, Children: []model.HighlightCondition{containsOK, statusRange}}
	assert.True(t, matchCondition(andCond, sampleResult(200, "it's ok", false)))
	assert.False(t, matchCondition(andCond, sampleResult(404, "it's ok", false)))

	notCond := model.HighlightCondition{Kind: model.CondCombined, Op: model.CombineNot, Children: []model.HighlightCondition{statusRange}}
	assert.True(t, matchCondition(notCond, sampleResult(500, "", false)))
	assert.False(t, matchCondition(notCond, sampleResult(200, "", false)))

	orCond := model.HighlightCondition{Kind: model.CondCombined, Op: model.CombineOr, Children: []model.HighlightCondition{statusRange, containsOK}}
	assert.True(t, matchCondition(orCond, sampleResult(500, "it's ok", false)))
}

func TestBroadcastPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	assert.Equal(t, 2, b.SubscriberCount())
	b.Publish(Event{Kind: EventNewResult, AttackID: "a1"})

	select {
	case ev := <-ch1:
		assert.Equal(t, "a1", ev.AttackID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch1")
	}
	select {
	case ev := <-ch2:
		assert.Equal(t, "a1", ev.AttackID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch2")
	}
}

func TestBroadcastDropsOldestWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	for i := 0; i < BroadcastCapacity+10; i++ {
		b.Publish(Event{Kind: EventNewResult, AttackID: "a1"})
	}
	assert.Equal(t, BroadcastCapacity, len(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestRecomputeProgressAccumulatesCounters(t *testing.T) {
	prev := model.AttackProgress{Total: 100, Completed: 10}
	next := RecomputeProgress(prev, 5, 4, 1, 0, 2*time.Second)

	assert.Equal(t, 15, next.Completed)
	assert.Equal(t, 4, next.Successful)
	assert.Equal(t, 1, next.Failed)
	assert.Greater(t, next.RequestsPerSecond, 0.0)
	require.NotNil(t, next.EstimatedEndAt)
}

func TestExportJSONIncludesAllFields(t *testing.T) {
	out, err := Export([]model.Result{sampleResult(200, "hello", false)}, FormatJSON, false)
	require.NoError(t, err)
	assert.Contains(t, out, `"status_code":200`)
	assert.Contains(t, out, `"agent_id":"agent-1"`)
}

func TestExportCSVHasFixedHeader(t *testing.T) {
	out, err := Export([]model.Result{sampleResult(200, "hello", false)}, FormatCSV, false)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, "id,attack_id,index,agent_id,method,url,status_code,response_length,duration_ms,executed_at,is_highlighted,error", lines[0])
	assert.Len(t, lines, 2)
}

func TestExportXMLWrapsResultsInFlatElements(t *testing.T) {
	out, err := Export([]model.Result{sampleResult(200, "hello", false)}, FormatXML, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<results>"))
	assert.Contains(t, out, "<result>")
	assert.Contains(t, out, "</results>")
}

func TestExportHTMLMarksHighlightedRows(t *testing.T) {
	out, err := Export([]model.Result{sampleResult(500, "boom", true)}, FormatHTML, false)
	require.NoError(t, err)
	assert.Contains(t, out, `class="highlighted"`)
	assert.Contains(t, out, "<table>")
}

func TestExportHighlightedOnlyFiltersResults(t *testing.T) {
	results := []model.Result{
		sampleResult(200, "ok", false),
		sampleResult(500, "boom", true),
	}
	out, err := Export(results, FormatCSV, true)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 2) // header + one highlighted row
}

func TestExportUnsupportedFormatIsError(t *testing.T) {
	_, err := Export(nil, ExportFormat("yaml"), false)
	assert.Error(t, err)
}
