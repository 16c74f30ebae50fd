package model

import "time"

// Result is one completed request's outcome, produced by a worker,
// persisted via the buffered writer and fanned out via the broadcaster.
type Result struct {
	ID             string
	AttackID       string // attack id, or tab id for Repeater executions
	Index          int    // stable index from the mode executor's numbering
	Request        Request
	Response       *Response
	Err            error
	AgentID        string
	PayloadValues  map[string]string
	ExecutedAt     time.Time
	Duration       time.Duration
	StatusCode     int
	ResponseLength int
	IsHighlighted  bool
	HighlightNames []string
	HighlightWhy   []string
}

// Success reports whether the underlying RPC succeeded (a Response was
// obtained, irrespective of HTTP status code).
func (r Result) Success() bool {
	return r.Err == nil && r.Response != nil
}
