package stream

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
)

// ExportFormat is the closed set of export serializations.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatXML  ExportFormat = "xml"
	FormatHTML ExportFormat = "html"
)

func unsupportedFormat(format ExportFormat) error {
	return errortax.New(errortax.KindSerializationError, fmt.Sprintf("unsupported export format %q", format))
}

// Export serializes results in format, optionally filtering to only the
// highlighted ones.
func Export(results []model.Result, format ExportFormat, highlightedOnly bool) (string, error) {
	filtered := results
	if highlightedOnly {
		filtered = make([]model.Result, 0, len(results))
		for _, r := range results {
			if r.IsHighlighted {
				filtered = append(filtered, r)
			}
		}
	}

	switch format {
	case FormatJSON:
		return exportJSON(filtered)
	case FormatCSV:
		return exportCSV(filtered)
	case FormatXML:
		return exportXML(filtered)
	case FormatHTML:
		return exportHTML(filtered)
	default:
		return "", unsupportedFormat(format)
	}
}

type exportRecord struct {
	ID             string `json:"id"`
	AttackID       string `json:"attack_id"`
	Index          int    `json:"index"`
	AgentID        string `json:"agent_id"`
	Method         string `json:"method"`
	URL            string `json:"url"`
	StatusCode     int    `json:"status_code"`
	ResponseLength int    `json:"response_length"`
	DurationMS     int64  `json:"duration_ms"`
	ExecutedAt     string `json:"executed_at"`
	IsHighlighted  bool   `json:"is_highlighted"`
	Error          string `json:"error,omitempty"`
}

func toRecord(r model.Result) exportRecord {
	rec := exportRecord{
		ID:             r.ID,
		AttackID:       r.AttackID,
		Index:          r.Index,
		AgentID:        r.AgentID,
		Method:         string(r.Request.Method),
		URL:            r.Request.URL,
		StatusCode:     r.StatusCode,
		ResponseLength: r.ResponseLength,
		DurationMS:     r.Duration.Milliseconds(),
		ExecutedAt:     r.ExecutedAt.Format(time.RFC3339),
		IsHighlighted:  r.IsHighlighted,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

func exportJSON(results []model.Result) (string, error) {
	records := make([]exportRecord, len(results))
	for i, r := range results {
		records[i] = toRecord(r)
	}
	out, err := json.Marshal(records)
	if err != nil {
		return "", errortax.Wrap(errortax.KindSerializationError, "json export failed", err)
	}
	return string(out), nil
}

var csvHeader = []string{"id", "attack_id", "index", "agent_id", "method", "url", "status_code", "response_length", "duration_ms", "executed_at", "is_highlighted", "error"}

func exportCSV(results []model.Result) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return "", errortax.Wrap(errortax.KindSerializationError, "csv export failed", err)
	}
	for _, r := range results {
		rec := toRecord(r)
		row := []string{
			rec.ID, rec.AttackID, strconv.Itoa(rec.Index), rec.AgentID, rec.Method, rec.URL,
			strconv.Itoa(rec.StatusCode), strconv.Itoa(rec.ResponseLength), strconv.FormatInt(rec.DurationMS, 10),
			rec.ExecutedAt, strconv.FormatBool(rec.IsHighlighted), rec.Error,
		}
		if err := w.Write(row); err != nil {
			return "", errortax.Wrap(errortax.KindSerializationError, "csv export failed", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errortax.Wrap(errortax.KindSerializationError, "csv export failed", err)
	}
	return b.String(), nil
}

type xmlResults struct {
	XMLName xml.Name       `xml:"results"`
	Results []exportRecord `xml:"result"`
}

func exportXML(results []model.Result) (string, error) {
	records := make([]exportRecord, len(results))
	for i, r := range results {
		records[i] = toRecord(r)
	}
	out, err := xml.MarshalIndent(xmlResults{Results: records}, "", "  ")
	if err != nil {
		return "", errortax.Wrap(errortax.KindSerializationError, "xml export failed", err)
	}
	return string(out), nil
}

func exportHTML(results []model.Result) (string, error) {
	var b strings.Builder
	b.WriteString("<table>\n<thead><tr>")
	for _, h := range csvHeader {
		b.WriteString("<th>" + html.EscapeString(h) + "</th>")
	}
	b.WriteString("</tr></thead>\n<tbody>\n")
	for _, r := range results {
		rec := toRecord(r)
		rowClass := ""
		if rec.IsHighlighted {
			rowClass = ` class="highlighted"`
		}
		b.WriteString(fmt.Sprintf("<tr%s>", rowClass))
		cells := []string{
			rec.ID, rec.AttackID, strconv.Itoa(rec.Index), rec.AgentID, rec.Method, rec.URL,
			strconv.Itoa(rec.StatusCode), strconv.Itoa(rec.ResponseLength), strconv.FormatInt(rec.DurationMS, 10),
			rec.ExecutedAt, strconv.FormatBool(rec.IsHighlighted), rec.Error,
		}
		for _, c := range cells {
			b.WriteString("<td>" + html.EscapeString(c) + "</td>")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</tbody>\n</table>")
	return b.String(), nil
}
