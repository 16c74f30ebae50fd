package errortax

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorsuite/orchestrator/internal/logging"
	"github.com/vectorsuite/orchestrator/internal/masking"
	"github.com/vectorsuite/orchestrator/internal/metrics"
	"github.com/vectorsuite/orchestrator/internal/resilience"
)

// FallbackActionKind enumerates the recovery actions a Handler can surface.
type FallbackActionKind string

const (
	FailFast         FallbackActionKind = "fail_fast"
	UseFallbackAgent FallbackActionKind = "use_fallback_agent"
	ReduceLoad       FallbackActionKind = "reduce_load"
	BackoffAndRetry  FallbackActionKind = "backoff_and_retry"
	SwitchToOffline  FallbackActionKind = "switch_to_offline_mode"
	NotifyUser       FallbackActionKind = "notify_user"
)

// FallbackAction is a tagged recovery directive returned by Handle.
type FallbackAction struct {
	Kind             FallbackActionKind
	FallbackAgentIDs []string
	DelayMS          int64
	Message          string
}

// Result is what Handle returns to a caller: whether to retry, how long to
// wait, the fallback action to take, and a correlation id for the logged
// error.
type Result struct {
	ShouldRetry        bool
	RetryDelayMS       int64
	FallbackAction     *FallbackAction
	DegradationApplied bool
	ErrorID            string
}

// Handler centralizes recovery policy: it logs (through the masker), updates
// per-component circuit breakers, and decides whether a caller should retry,
// fall back to another agent, or fail fast and surface the error unchanged.
type Handler struct {
	logger     *logging.Logger
	masker     masking.Masker
	metrics    *metrics.Metrics
	service    string
	mu         sync.Mutex
	circuit    map[string]*resilience.CircuitBreaker
	policy     map[string]resilience.RetryPolicy
	validators map[string]func(string) error
}

// NewHandler builds a Handler. masker may be nil to disable masking (tests only).
func NewHandler(logger *logging.Logger, masker masking.Masker) *Handler {
	return &Handler{
		logger:     logger,
		masker:     masker,
		circuit:    make(map[string]*resilience.CircuitBreaker),
		policy:     make(map[string]resilience.RetryPolicy),
		validators: make(map[string]func(string) error),
	}
}

// UseMetrics attaches a Prometheus sink so every classified error is
// counted by kind. service labels the exported series.
func (h *Handler) UseMetrics(sink *metrics.Metrics, service string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = sink
	h.service = service
}

// SetRetryPolicy overrides the retry policy used for a component; components
// without an explicit policy get resilience.DefaultRetryPolicy().
func (h *Handler) SetRetryPolicy(component string, p resilience.RetryPolicy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policy[component] = p
}

func (h *Handler) breakerFor(component string) *resilience.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.circuit[component]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
		h.circuit[component] = cb
	}
	return cb
}

// Handle classifies err, logs it through the masker, records circuit breaker
// state, and returns the recovery directive a caller should follow.
func (h *Handler) Handle(ctx context.Context, err error, component, operation string) Result {
	errID := uuid.New().String()

	te, ok := As(err)
	if !ok {
		te = Wrap(KindExecutionFailed, "unclassified error", err)
	}
	te = te.WithComponent(component, operation)

	if h.metrics != nil {
		h.metrics.RecordError(h.service, string(te.Kind))
	}

	if h.logger != nil {
		msg := te.Format()
		if h.masker != nil {
			msg = h.masker.MaskText(msg)
		}
		h.logAt(te.Severity(), errID, msg)
	}

	cb := h.breakerFor(component)
	if CountableForCircuitBreaker(te.Kind) {
		_ = cb.Execute(ctx, func() error { return err })
	}

	if cb.State() == resilience.StateOpen {
		return Result{
			ShouldRetry:        false,
			FallbackAction:     &FallbackAction{Kind: FailFast},
			DegradationApplied: false,
			ErrorID:            errID,
		}
	}

	if !te.Recoverable() {
		return Result{
			ShouldRetry:    false,
			FallbackAction: nil,
			ErrorID:        errID,
		}
	}

	policy := h.retryPolicyFor(component)
	action := h.determineFallback(te, policy)

	return Result{
		ShouldRetry:        true,
		RetryDelayMS:       policy.Backoff.InitialDelay(0).Milliseconds(),
		FallbackAction:     action,
		DegradationApplied: action != nil && action.Kind != FailFast,
		ErrorID:            errID,
	}
}

func (h *Handler) retryPolicyFor(component string) resilience.RetryPolicy {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.policy[component]; ok {
		return p
	}
	return resilience.DefaultRetryPolicy()
}

func (h *Handler) determineFallback(te *Error, policy resilience.RetryPolicy) *FallbackAction {
	switch te.Kind {
	case KindAgentUnavailable:
		if len(policy.FallbackAgents) > 0 {
			return &FallbackAction{Kind: UseFallbackAgent, FallbackAgentIDs: policy.FallbackAgents}
		}
		return &FallbackAction{Kind: ReduceLoad}
	case KindResourceExhaustion, KindRateLimitExceeded:
		return &FallbackAction{Kind: ReduceLoad}
	case KindTimeout, KindNetworkError:
		return &FallbackAction{Kind: BackoffAndRetry, DelayMS: policy.Backoff.InitialDelay(0).Milliseconds()}
	case KindDatabaseError:
		return &FallbackAction{Kind: SwitchToOffline}
	default:
		return &FallbackAction{Kind: NotifyUser, Message: te.Message}
	}
}

func (h *Handler) logAt(sev Severity, errID, msg string) {
	entry := h.logger.WithFields(map[string]interface{}{"error_id": errID})
	switch sev {
	case SeverityCritical:
		entry.Error(msg)
	case SeverityHigh:
		entry.Error(msg)
	case SeverityMedium:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}

// UserVisible is the user-facing failure payload: a short message,
// remediation steps, a severity label and a retryable flag, plus optional
// affected agents / suggested actions for broadcast.
type UserVisible struct {
	Message         string
	Remediation     []string
	Severity        Severity
	Retryable       bool
	ErrorID         string
	Timestamp       time.Time
	AffectedAgents  []string
	SuggestedAction string
}

// RegisterValidator installs a named input validator for ValidateInput.
func (h *Handler) RegisterValidator(name string, fn func(string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators[name] = fn
}

// ValidateInput runs the named validator over payload. An unknown validator
// name is a ConfigurationError; a failing validator surfaces as a
// ValidationError wrapping the validator's own error.
func (h *Handler) ValidateInput(payload, validatorName string) error {
	h.mu.Lock()
	fn, ok := h.validators[validatorName]
	h.mu.Unlock()
	if !ok {
		return New(KindConfigurationError, fmt.Sprintf("unknown input validator %q", validatorName))
	}
	if err := fn(payload); err != nil {
		return Wrap(KindValidationError, fmt.Sprintf("input rejected by validator %q", validatorName), err)
	}
	return nil
}

// ToUserVisible converts a classified error plus handling result into the
// payload surfaced to subscribers/callers.
func ToUserVisible(te *Error, res Result, affectedAgents []string) UserVisible {
	suggested := ""
	if res.FallbackAction != nil {
		suggested = string(res.FallbackAction.Kind)
	}
	return UserVisible{
		Message:         te.Message,
		Remediation:     te.Remediation(),
		Severity:        te.Severity(),
		Retryable:       te.Recoverable(),
		ErrorID:         res.ErrorID,
		Timestamp:       time.Now(),
		AffectedAgents:  affectedAgents,
		SuggestedAction: suggested,
	}
}
