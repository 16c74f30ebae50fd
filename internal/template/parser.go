// Package template implements the payload-marker parser and injector.
// Positions are delimited by pairs of the § (U+00A7) marker; the body
// between a pair is the payload-set identifier, matching [A-Za-z0-9_-]+.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vectorsuite/orchestrator/internal/errortax"
)

const marker = '§'

var setIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Position describes one payload marker pair found in the original template.
type Position struct {
	Index     int // 0-indexed, assigned in scan order
	ByteStart int // offset of the opening marker in the original template
	ByteEnd   int // offset just past the closing marker
	SetID     string
}

// Parsed is the result of parsing a template: the processed template with
// every marker pair replaced by {PAYLOAD_i}, plus the ordered Positions.
type Parsed struct {
	Original  string
	Processed string
	Positions []Position
}

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidPayloadConfig, reason)
}

// Parse scans tmpl for marker pairs and returns the Parsed template.
// Unmatched delimiters, empty marker bodies, invalid set-id characters, and
// a pre-existing literal "{PAYLOAD_i}" substring (which would make the
// processed output ambiguous) are all InvalidPayloadConfig errors.
func Parse(tmpl string) (*Parsed, error) {
	if strings.Contains(tmpl, "{PAYLOAD_") {
		return nil, invalidConfig("template already contains a {PAYLOAD_i} placeholder")
	}

	runes := []rune(tmpl)
	var markerByteOffsets []int
	byteOffset := 0
	for _, r := range runes {
		if r == marker {
			markerByteOffsets = append(markerByteOffsets, byteOffset)
		}
		byteOffset += len(string(r))
	}
	if len(markerByteOffsets)%2 != 0 {
		return nil, invalidConfig("unmatched § payload marker delimiter")
	}

	var b strings.Builder
	var positions []Position
	cursor := 0
	idx := 0

	for i := 0; i < len(markerByteOffsets); i += 2 {
		start := markerByteOffsets[i]
		end := markerByteOffsets[i+1]
		markerLen := len(string(marker))
		body := tmpl[start+markerLen : end]
		if body == "" {
			return nil, invalidConfig("empty payload marker body")
		}
		if !setIDPattern.MatchString(body) {
			return nil, invalidConfig(fmt.Sprintf("invalid payload set id %q", body))
		}

		b.WriteString(tmpl[cursor:start])
		b.WriteString("{PAYLOAD_")
		b.WriteString(strconv.Itoa(idx))
		b.WriteString("}")

		positions = append(positions, Position{
			Index:     idx,
			ByteStart: start,
			ByteEnd:   end + markerLen,
			SetID:     body,
		})
		idx++
		cursor = end + markerLen
	}
	b.WriteString(tmpl[cursor:])

	return &Parsed{Original: tmpl, Processed: b.String(), Positions: positions}, nil
}

// Inject substitutes every {PAYLOAD_i} placeholder in p.Processed with the
// value from values keyed by the position's set-id. Every set-id referenced
// by the template must be present in values.
func Inject(p *Parsed, values map[string]string) (string, error) {
	out := p.Processed
	for _, pos := range p.Positions {
		v, ok := values[pos.SetID]
		if !ok {
			return "", invalidConfig(fmt.Sprintf("missing payload value for set %q", pos.SetID))
		}
		placeholder := "{PAYLOAD_" + strconv.Itoa(pos.Index) + "}"
		out = strings.ReplaceAll(out, placeholder, v)
	}
	return out, nil
}

// InjectByPosition substitutes each {PAYLOAD_i} placeholder with values[i],
// addressing positions directly by index rather than by set-id. Attack-mode
// expanders use this when a mode rebinds a position to a payload set other
// than the one its marker nominally declared (e.g. BatteringRam binding
// every position to the first position's set). Every position's index must
// be present in values.
func InjectByPosition(p *Parsed, values map[int]string) (string, error) {
	out := p.Processed
	for _, pos := range p.Positions {
		v, ok := values[pos.Index]
		if !ok {
			return "", invalidConfig(fmt.Sprintf("missing payload value for position %d", pos.Index))
		}
		placeholder := "{PAYLOAD_" + strconv.Itoa(pos.Index) + "}"
		out = strings.ReplaceAll(out, placeholder, v)
	}
	return out, nil
}
