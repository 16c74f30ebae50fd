// Package stream implements result streaming: highlight rule evaluation, a
// lossy broadcast fan-out, progress recomputation, export serialization,
// and an optional Redis-backed cursor store for subscriber
// resume-after-restart.
package stream

import (
	"regexp"
	"strings"

	"github.com/vectorsuite/orchestrator/internal/model"
)

// DefaultRules returns the built-in highlight rules: 4xx/5xx status ranges,
// 2xx success, response length > 100 KB, response time > 5s.
func DefaultRules() []model.HighlightRule {
	clientErr, serverErr := 400, 499
	serverErrMin, serverErrMax := 500, 599
	successMin, successMax := 200, 299
	lengthMin := 100 * 1024
	timeMinMS := int64(5000)

	return []model.HighlightRule{
		{
			ID: "default-4xx", Name: "Client Error", Priority: 5, Enabled: true, Color: "orange",
			Condition: model.HighlightCondition{Kind: model.CondStatusCodeRange, Min: &clientErr, Max: &serverErr},
		},
		{
			ID: "default-5xx", Name: "Server Error", Priority: 6, Enabled: true, Color: "red",
			Condition: model.HighlightCondition{Kind: model.CondStatusCodeRange, Min: &serverErrMin, Max: &serverErrMax},
		},
		{
			ID: "default-2xx", Name: "Success", Priority: 1, Enabled: true, Color: "green",
			Condition: model.HighlightCondition{Kind: model.CondStatusCodeRange, Min: &successMin, Max: &successMax},
		},
		{
			ID: "default-large-response", Name: "Large Response", Priority: 3, Enabled: true, Color: "blue",
			Condition: model.HighlightCondition{Kind: model.CondResponseLength, Min: &lengthMin},
		},
		{
			ID: "default-slow-response", Name: "Slow Response", Priority: 4, Enabled: true, Color: "yellow",
			Condition: model.HighlightCondition{Kind: model.CondResponseTime, MinMS: &timeMinMS},
		},
	}
}

// Evaluate runs every enabled rule against result and returns whether any
// matched, plus the matched rule names and per-match reasons. A result with
// no response never highlights.
func Evaluate(rules []model.HighlightRule, result model.Result) (bool, []string, []string) {
	if result.Response == nil {
		return false, nil, nil
	}

	var names, whys []string
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if matchCondition(rule.Condition, result) {
			names = append(names, rule.Name)
			whys = append(whys, describeMatch(rule, result))
		}
	}
	return len(names) > 0, names, whys
}

func matchCondition(cond model.HighlightCondition, result model.Result) bool {
	resp := result.Response
	switch cond.Kind {
	case model.CondStatusCode:
		for _, code := range cond.StatusCodes {
			if resp.Status == code {
				return true
			}
		}
		return false
	case model.CondStatusCodeRange:
		if cond.Min != nil && resp.Status < *cond.Min {
			return false
		}
		if cond.Max != nil && resp.Status > *cond.Max {
			return false
		}
		return true
	case model.CondResponseLength:
		length := len(resp.Body)
		if cond.Min != nil && length < *cond.Min {
			return false
		}
		if cond.Max != nil && length > *cond.Max {
			return false
		}
		return true
	case model.CondResponseTime:
		ms := result.Duration.Milliseconds()
		if cond.MinMS != nil && ms < *cond.MinMS {
			return false
		}
		if cond.MaxMS != nil && ms > *cond.MaxMS {
			return false
		}
		return true
	case model.CondResponseContains:
		body := string(resp.Body)
		if cond.CaseSensitive {
			return strings.Contains(body, cond.Text)
		}
		return strings.Contains(strings.ToLower(body), strings.ToLower(cond.Text))
	case model.CondResponseRegex:
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return false
		}
		return re.Match(resp.Body)
	case model.CondHeaderExists:
		_, ok := resp.HeaderValue(cond.HeaderName)
		return ok
	case model.CondHeaderValue:
		v, ok := resp.HeaderValue(cond.HeaderName)
		if !ok {
			return false
		}
		if cond.CaseSensitive {
			return v == cond.HeaderValue
		}
		return strings.EqualFold(v, cond.HeaderValue)
	case model.CondCombined:
		return matchCombined(cond, result)
	default:
		return false
	}
}

func matchCombined(cond model.HighlightCondition, result model.Result) bool {
	switch cond.Op {
	case model.CombineAnd:
		for _, child := range cond.Children {
			if !matchCondition(child, result) {
				return false
			}
		}
		return true
	case model.CombineOr:
		for _, child := range cond.Children {
			if matchCondition(child, result) {
				return true
			}
		}
		return false
	case model.CombineNot:
		if len(cond.Children) != 1 {
			return false
		}
		return !matchCondition(cond.Children[0], result)
	default:
		return false
	}
}

func describeMatch(rule model.HighlightRule, result model.Result) string {
	switch rule.Condition.Kind {
	case model.CondStatusCode, model.CondStatusCodeRange:
		return "status code matched " + rule.Name
	case model.CondResponseLength:
		return "response length matched " + rule.Name
	case model.CondResponseTime:
		return "response time matched " + rule.Name
	default:
		return "condition matched " + rule.Name
	}
}
