// Package errortax provides the orchestrator's unified error taxonomy.
//
// Every error that crosses a component boundary in the attack engine is
// classified into one of a fixed set of Kinds, each carrying a Severity,
// a Category, a recoverability flag and operator-facing remediation text.
package errortax

import (
	"errors"
	"fmt"
)

// Kind is a closed set of orchestrator error classifications.
type Kind string

const (
	KindAgentUnavailable       Kind = "AGENT_UNAVAILABLE"
	KindInvalidPayloadConfig   Kind = "INVALID_PAYLOAD_CONFIG"
	KindExecutionFailed        Kind = "EXECUTION_FAILED"
	KindSessionExpired         Kind = "SESSION_EXPIRED"
	KindPayloadGenerationFail  Kind = "PAYLOAD_GENERATION_FAILED"
	KindDatabaseError          Kind = "DATABASE_ERROR"
	KindNetworkError           Kind = "NETWORK_ERROR"
	KindResourceAllocationFail Kind = "RESOURCE_ALLOCATION_FAILED"
	KindInvalidAttackConfig    Kind = "INVALID_ATTACK_CONFIG"
	KindSerializationError     Kind = "SERIALIZATION_ERROR"
	KindValidationError        Kind = "VALIDATION_ERROR"
	KindResourceExhaustion     Kind = "RESOURCE_EXHAUSTION"
	KindAuthenticationFailure  Kind = "AUTHENTICATION_FAILURE"
	KindPermissionDenied       Kind = "PERMISSION_DENIED"
	KindTimeout                Kind = "TIMEOUT"
	KindRateLimitExceeded      Kind = "RATE_LIMIT_EXCEEDED"
	KindConfigurationError     Kind = "CONFIGURATION_ERROR"
	KindSecurityViolation      Kind = "SECURITY_VIOLATION"
)

// Severity ranks how urgently an error needs operator attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups errors by the subsystem responsible for them.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryConfiguration  Category = "configuration"
	CategoryAuthentication Category = "authentication"
	CategorySecurity       Category = "security"
	CategoryRuntime        Category = "runtime"
)

// classification is the fixed severity/category/recoverability mapping for
// one Kind.
type classification struct {
	severity    Severity
	category    Category
	recoverable bool
	remediation []string
}

var taxonomy = map[Kind]classification{
	KindSecurityViolation: {SeverityCritical, CategorySecurity, false, []string{
		"Block the offending request and alert security operators",
		"Review the triggering payload and attack configuration",
	}},
	KindPermissionDenied: {SeverityCritical, CategoryAuthentication, false, []string{
		"Verify the caller's role and scope",
		"Re-authenticate with sufficient privileges",
	}},
	KindAuthenticationFailure: {SeverityHigh, CategoryAuthentication, false, []string{
		"Re-validate or refresh the session",
		"Check the target's authentication requirements",
		"Rotate credentials if the failure persists",
	}},
	KindSessionExpired: {SeverityMedium, CategoryAuthentication, false, []string{
		"Refresh or re-validate the session",
		"Select another active session",
	}},
	KindConfigurationError: {SeverityHigh, CategoryConfiguration, false, []string{
		"Review the attack or repeater configuration",
		"Correct the invalid field and resubmit",
	}},
	KindInvalidAttackConfig: {SeverityHigh, CategoryConfiguration, false, []string{
		"Check attack mode, payload sets, and target agents",
		"Re-run validateConfig before starting the attack",
	}},
	KindResourceExhaustion: {SeverityHigh, CategoryInfrastructure, true, []string{
		"Reduce concurrency limits",
		"Wait for backpressure to clear",
		"Scale out additional agents",
	}},
	KindDatabaseError: {SeverityMedium, CategoryInfrastructure, true, []string{
		"Retry the operation",
		"Check database connectivity",
	}},
	KindNetworkError: {SeverityMedium, CategoryInfrastructure, true, []string{
		"Retry with backoff",
		"Check agent network reachability",
	}},
	KindTimeout: {SeverityMedium, CategoryInfrastructure, true, []string{
		"Increase the per-request timeout",
		"Retry the request",
		"Check target responsiveness",
	}},
	KindRateLimitExceeded: {SeverityMedium, CategoryRuntime, true, []string{
		"Reduce request rate",
		"Wait before retrying",
	}},
	KindAgentUnavailable: {SeverityLow, CategoryInfrastructure, true, []string{
		"Wait for the agent to reconnect",
		"Redistribute remaining payloads to other agents",
	}},
	KindExecutionFailed: {SeverityLow, CategoryRuntime, true, []string{
		"Retry the request",
		"Inspect the agent's error detail",
	}},
	KindValidationError: {SeverityLow, CategoryConfiguration, false, []string{
		"Correct the invalid field",
		"Resubmit the request",
	}},
	KindInvalidPayloadConfig: {SeverityLow, CategoryConfiguration, false, []string{
		"Check the payload set definition",
		"Ensure wordlist files exist and number ranges are well-formed",
	}},
	KindPayloadGenerationFail: {SeverityLow, CategoryRuntime, true, []string{
		"Check the payload source (file path, encoding)",
		"Retry payload generation",
	}},
	KindResourceAllocationFail: {SeverityLow, CategoryInfrastructure, true, []string{
		"Retry once permits free up",
		"Reduce requested concurrency",
	}},
	KindSerializationError: {SeverityLow, CategoryConfiguration, false, []string{
		"Check the request/response payload shape",
		"Compare the serialized fields against the expected schema",
	}},
}

// Error is a structured, classified orchestrator error.
type Error struct {
	Kind      Kind
	Message   string
	Details   map[string]interface{}
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair for diagnostics, returning e for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Format renders a single human-readable line combining component, operation
// and message, used both for log lines and broadcast AttackError events so
// the two paths never drift apart.
func (e *Error) Format() string {
	switch {
	case e.Component != "" && e.Operation != "":
		return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Error())
	case e.Component != "":
		return fmt.Sprintf("%s: %s", e.Component, e.Error())
	default:
		return e.Error()
	}
}

// Severity returns the fixed severity for this error's kind.
func (e *Error) Severity() Severity { return taxonomy[e.Kind].severity }

// CategoryOf returns the fixed category for this error's kind.
func (e *Error) CategoryOf() Category { return taxonomy[e.Kind].category }

// Recoverable reports whether the taxonomy marks this kind as recoverable.
func (e *Error) Recoverable() bool { return taxonomy[e.Kind].recoverable }

// Remediation returns the fixed 2-4 step remediation list for this kind.
func (e *Error) Remediation() []string { return taxonomy[e.Kind].remediation }

// New creates a classified Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified Error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithComponent attaches the component/operation that raised the error.
func (e *Error) WithComponent(component, operation string) *Error {
	e.Component = component
	e.Operation = operation
	return e
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsKind reports whether err classifies as the given Kind.
func IsKind(err error, kind Kind) bool {
	te, ok := As(err)
	return ok && te.Kind == kind
}

// CountableForCircuitBreaker reports whether this kind should count toward
// a circuit breaker's consecutive-failure tally. Only transient runtime
// kinds count; configuration and validation errors never open a breaker.
func CountableForCircuitBreaker(kind Kind) bool {
	switch kind {
	case KindAgentUnavailable, KindNetworkError, KindTimeout, KindExecutionFailed:
		return true
	default:
		return false
	}
}
