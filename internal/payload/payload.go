// Package payload implements the three payload generators: Wordlist,
// NumberRange and Custom. Each exposes Validate, Count and Generate, and is
// dispatched via a sealed tagged variant rather than an interface per kind.
package payload

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vectorsuite/orchestrator/internal/errortax"
)

// Kind is the closed set of payload set configurations.
type Kind string

const (
	KindWordlist    Kind = "wordlist"
	KindNumberRange Kind = "number_range"
	KindCustom      Kind = "custom"
)

// Config is a tagged-variant payload set configuration.
type Config struct {
	Kind Kind

	// Wordlist
	FilePath string
	Encoding string // "utf-8", "ascii"; only utf-8/ascii decoded specially

	// NumberRange
	Start  int64
	End    int64
	Step   int64
	Format string // "{}" substitution, "%d", "%x", or literal concatenation

	// Custom
	Values []string
}

// Validate performs structural checks: eager for Custom/NumberRange; the
// Wordlist file-presence check is deferred until generation.
func (c Config) Validate() error {
	switch c.Kind {
	case KindWordlist:
		if strings.TrimSpace(c.FilePath) == "" {
			return invalidConfig("wordlist file path must not be empty")
		}
		enc := strings.ToLower(c.Encoding)
		if enc != "" && enc != "utf-8" && enc != "utf8" && enc != "ascii" {
			return invalidConfig(fmt.Sprintf("unsupported wordlist encoding %q", c.Encoding))
		}
		return nil
	case KindNumberRange:
		if c.Step == 0 {
			return invalidConfig("number range step must not be zero")
		}
		if c.Step > 0 && c.Start > c.End {
			return invalidConfig("number range step is positive but start > end")
		}
		if c.Step < 0 && c.Start < c.End {
			return invalidConfig("number range step is negative but start < end")
		}
		return nil
	case KindCustom:
		if len(c.Values) == 0 {
			return invalidConfig("custom payload list must not be empty")
		}
		return nil
	default:
		return invalidConfig(fmt.Sprintf("unknown payload set kind %q", c.Kind))
	}
}

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidPayloadConfig, reason)
}

func generationFailed(reason string) error {
	return errortax.New(errortax.KindPayloadGenerationFail, reason)
}

// Count returns the exact number of payloads without materializing the
// sequence for Wordlist/NumberRange.
func (c Config) Count() (int, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	switch c.Kind {
	case KindCustom:
		return len(c.Values), nil
	case KindNumberRange:
		return numberRangeCount(c.Start, c.End, c.Step), nil
	case KindWordlist:
		n := 0
		err := scanWordlist(c.FilePath, c.Encoding, func(string) { n++ })
		if err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, invalidConfig("unknown payload set kind")
}

func numberRangeCount(start, end, step int64) int {
	lo, hi := start, end
	if step < 0 {
		lo, hi = end, start
	}
	if hi < lo {
		return 0
	}
	span := hi - lo
	absStep := step
	if absStep < 0 {
		absStep = -absStep
	}
	return int(span/absStep) + 1
}

// Generate returns the full payload sequence for c.
func (c Config) Generate() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case KindCustom:
		out := make([]string, len(c.Values))
		copy(out, c.Values)
		return out, nil
	case KindNumberRange:
		return generateNumberRange(c.Start, c.End, c.Step, c.Format)
	case KindWordlist:
		var out []string
		err := scanWordlist(c.FilePath, c.Encoding, func(line string) {
			out = append(out, line)
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, invalidConfig("unknown payload set kind")
}

func generateNumberRange(start, end, step int64, format string) ([]string, error) {
	n := numberRangeCount(start, end, step)
	out := make([]string, 0, n)
	cur := start
	ascending := step > 0
	for i := 0; i < n; i++ {
		out = append(out, formatNumber(cur, format))
		cur += step
		if ascending && cur > end {
			break
		}
		if !ascending && cur < end {
			break
		}
	}
	return out, nil
}

func formatNumber(n int64, format string) string {
	switch {
	case strings.Contains(format, "{}"):
		return strings.ReplaceAll(format, "{}", strconv.FormatInt(n, 10))
	case format == "%d":
		return strconv.FormatInt(n, 10)
	case format == "%x":
		return strconv.FormatInt(n, 16)
	case format == "":
		return strconv.FormatInt(n, 10)
	default:
		return format + strconv.FormatInt(n, 10)
	}
}

// scanWordlist reads one non-empty decoded line at a time, preserving order.
func scanWordlist(path, encoding string, emit func(string)) error {
	f, err := os.Open(path)
	if err != nil {
		return generationFailed(fmt.Sprintf("opening wordlist %q: %v", path, err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := decodeLine(sc.Text(), encoding)
		if line == "" {
			continue
		}
		emit(line)
	}
	if err := sc.Err(); err != nil {
		return generationFailed(fmt.Sprintf("reading wordlist %q: %v", path, err))
	}
	return nil
}

func decodeLine(line, encoding string) string {
	switch strings.ToLower(encoding) {
	case "ascii":
		var b strings.Builder
		for _, r := range line {
			if r <= 127 {
				b.WriteRune(r)
			}
		}
		return b.String()
	default: // utf-8 / unspecified
		return line
	}
}
