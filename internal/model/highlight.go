package model

// HighlightRule is a named predicate over (Result, Response) marking
// results of interest.
type HighlightRule struct {
	ID          string
	Name        string
	Description string
	Condition   HighlightCondition
	Priority    int // 1-10
	Enabled     bool
	Color       string
}

// ConditionKind is the closed algebra of highlight predicates.
type ConditionKind string

const (
	CondStatusCode       ConditionKind = "status_code"
	CondStatusCodeRange  ConditionKind = "status_code_range"
	CondResponseLength   ConditionKind = "response_length"
	CondResponseTime     ConditionKind = "response_time"
	CondResponseContains ConditionKind = "response_contains"
	CondResponseRegex    ConditionKind = "response_regex"
	CondHeaderExists     ConditionKind = "header_exists"
	CondHeaderValue      ConditionKind = "header_value"
	CondCombined         ConditionKind = "combined"
)

// CombineOp is the boolean operator for Combined conditions.
type CombineOp string

const (
	CombineAnd CombineOp = "and"
	CombineOr  CombineOp = "or"
	CombineNot CombineOp = "not"
)

// HighlightCondition is a single node in the closed condition algebra.
// Exactly the fields relevant to Kind are populated.
type HighlightCondition struct {
	Kind ConditionKind

	StatusCodes  []int  // CondStatusCode
	Min, Max     *int   // CondStatusCodeRange, CondResponseLength
	MinMS, MaxMS *int64 // CondResponseTime

	Text          string // CondResponseContains
	CaseSensitive bool   // CondResponseContains, CondHeaderValue

	Pattern string // CondResponseRegex

	HeaderName  string // CondHeaderExists, CondHeaderValue
	HeaderValue string // CondHeaderValue

	Op       CombineOp            // CondCombined
	Children []HighlightCondition // CondCombined
}
