// Package attackmode implements the four attack-mode expanders: Sniper,
// BatteringRam, Pitchfork and ClusterBomb. Each combines a parsed
// template's Positions with a map of payload-set values into an ordered
// sequence of AttackRequests, dispatched via a sealed tagged variant rather
// than per-mode heap objects.
package attackmode

import (
	"fmt"
	"strings"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
	"github.com/vectorsuite/orchestrator/internal/template"
)

// MaxClusterBombRequests is the hard refusal threshold for the Cartesian
// product of a ClusterBomb attack.
const MaxClusterBombRequests = 10_000_000

// AttackRequest is one fully-injected request produced by a mode executor.
type AttackRequest struct {
	Injected      string
	PayloadValues map[string]string // set-id -> value used
	Index         int               // monotonic, starting at 0
}

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidPayloadConfig, reason)
}

// CountRequests returns the number of requests mode would generate for the
// given positions/sets without materializing them.
func CountRequests(mode model.AttackMode, positions []template.Position, sets map[string][]string) (int, error) {
	switch mode {
	case model.ModeSniper:
		if len(positions) == 0 {
			return 0, nil
		}
		return len(sets[positions[0].SetID]), nil
	case model.ModeBatteringRam:
		if len(positions) == 0 {
			return 0, nil
		}
		return len(sets[positions[0].SetID]), nil
	case model.ModePitchfork:
		if len(positions) == 0 {
			return 0, nil
		}
		minLen := -1
		for _, pos := range positions {
			l := len(sets[pos.SetID])
			if minLen == -1 || l < minLen {
				minLen = l
			}
		}
		if minLen < 0 {
			return 0, nil
		}
		return minLen, nil
	case model.ModeClusterBomb:
		if len(positions) == 0 {
			return 0, nil
		}
		product := 1
		for _, pos := range positions {
			l := len(sets[pos.SetID])
			if l == 0 {
				return 0, nil
			}
			product *= l
			if product > MaxClusterBombRequests {
				return 0, invalidConfig(fmt.Sprintf(
					"cluster bomb product %d exceeds maximum of %d requests", product, MaxClusterBombRequests))
			}
		}
		return product, nil
	default:
		return 0, invalidConfig(fmt.Sprintf("unknown attack mode %q", mode))
	}
}

// GenerateRequests returns the ordered AttackRequests for mode.
func GenerateRequests(mode model.AttackMode, parsed *template.Parsed, sets map[string][]string) ([]AttackRequest, error) {
	if _, err := CountRequests(mode, parsed.Positions, sets); err != nil {
		return nil, err
	}

	switch mode {
	case model.ModeSniper:
		return generateSniper(parsed, sets)
	case model.ModeBatteringRam:
		return generateBatteringRam(parsed, sets)
	case model.ModePitchfork:
		return generatePitchfork(parsed, sets)
	case model.ModeClusterBomb:
		return generateClusterBomb(parsed, sets)
	default:
		return nil, invalidConfig(fmt.Sprintf("unknown attack mode %q", mode))
	}
}

// generateSniper drives only the first position. A template with more than
// one marker surfaces an InvalidPayloadConfig error from InjectByPosition,
// since Sniper has no value to bind the remaining positions to.
func generateSniper(parsed *template.Parsed, sets map[string][]string) ([]AttackRequest, error) {
	if len(parsed.Positions) == 0 {
		return nil, nil
	}
	pos := parsed.Positions[0]
	values := sets[pos.SetID]

	out := make([]AttackRequest, 0, len(values))
	for i, v := range values {
		injected, err := template.InjectByPosition(parsed, map[int]string{pos.Index: v})
		if err != nil {
			return nil, err
		}
		out = append(out, AttackRequest{
			Injected:      injected,
			PayloadValues: map[string]string{pos.SetID: v},
			Index:         i,
		})
	}
	return out, nil
}

// generateBatteringRam binds every position to the first position's set.
func generateBatteringRam(parsed *template.Parsed, sets map[string][]string) ([]AttackRequest, error) {
	if len(parsed.Positions) == 0 {
		return nil, nil
	}
	first := parsed.Positions[0]
	values := sets[first.SetID]

	out := make([]AttackRequest, 0, len(values))
	for i, v := range values {
		byPos := make(map[int]string, len(parsed.Positions))
		for _, pos := range parsed.Positions {
			byPos[pos.Index] = v
		}
		injected, err := template.InjectByPosition(parsed, byPos)
		if err != nil {
			return nil, err
		}
		out = append(out, AttackRequest{
			Injected:      injected,
			PayloadValues: map[string]string{first.SetID: v},
			Index:         i,
		})
	}
	return out, nil
}

// generatePitchfork walks all sets in lockstep, halting at the shortest.
// If any used set is empty, zero requests are emitted.
func generatePitchfork(parsed *template.Parsed, sets map[string][]string) ([]AttackRequest, error) {
	if len(parsed.Positions) == 0 {
		return nil, nil
	}
	minLen := -1
	for _, pos := range parsed.Positions {
		l := len(sets[pos.SetID])
		if minLen == -1 || l < minLen {
			minLen = l
		}
	}
	if minLen <= 0 {
		return nil, nil
	}

	out := make([]AttackRequest, 0, minLen)
	for i := 0; i < minLen; i++ {
		byPos := make(map[int]string, len(parsed.Positions))
		values := make(map[string]string, len(parsed.Positions))
		for _, pos := range parsed.Positions {
			v := sets[pos.SetID][i]
			byPos[pos.Index] = v
			values[pos.SetID] = v
		}
		injected, err := template.InjectByPosition(parsed, byPos)
		if err != nil {
			return nil, err
		}
		out = append(out, AttackRequest{Injected: injected, PayloadValues: values, Index: i})
	}
	return out, nil
}

// generateClusterBomb enumerates the Cartesian product in lexicographic
// order over positions, position 0 varying slowest.
func generateClusterBomb(parsed *template.Parsed, sets map[string][]string) ([]AttackRequest, error) {
	positions := parsed.Positions
	if len(positions) == 0 {
		return nil, nil
	}

	lens := make([]int, len(positions))
	for i, pos := range positions {
		lens[i] = len(sets[pos.SetID])
		if lens[i] == 0 {
			return nil, nil
		}
	}

	total := 1
	for _, l := range lens {
		total *= l
	}

	out := make([]AttackRequest, 0, total)
	indices := make([]int, len(positions))
	for reqIdx := 0; reqIdx < total; reqIdx++ {
		byPos := make(map[int]string, len(positions))
		values := make(map[string]string, len(positions))
		for p, pos := range positions {
			v := sets[pos.SetID][indices[p]]
			byPos[pos.Index] = v
			values[pos.SetID] = v
		}
		injected, err := template.InjectByPosition(parsed, byPos)
		if err != nil {
			return nil, err
		}
		out = append(out, AttackRequest{Injected: injected, PayloadValues: values, Index: reqIdx})

		// odometer increment, rightmost (last position) varies fastest
		for p := len(positions) - 1; p >= 0; p-- {
			indices[p]++
			if indices[p] < lens[p] {
				break
			}
			indices[p] = 0
		}
	}
	return out, nil
}

// ContainsAny reports whether s contains any of substrs.
func ContainsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
