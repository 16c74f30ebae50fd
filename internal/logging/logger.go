// Package logging provides structured logging for the orchestrator, backed
// by github.com/sirupsen/logrus with trace-ID propagation through context.Context.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type used for context values carried by this package.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	AttackIDKey ContextKey = "attack_id"
	AgentIDKey ContextKey = "agent_id"
)

// Logger wraps logrus.Logger with orchestrator-specific helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for component, using "json" or "text" formatting.
func New(component, level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry enriched with trace/attack/agent IDs found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(AttackIDKey); v != nil {
		entry = entry.WithField("attack_id", v)
	}
	if v := ctx.Value(AgentIDKey); v != nil {
		entry = entry.WithField("agent_id", v)
	}
	return entry
}

// WithFields returns an entry with the component field plus fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string { return uuid.New().String() }

// WithTraceID attaches a trace ID to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// WithAttackID attaches an attack ID to ctx.
func WithAttackID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, AttackIDKey, id)
}

// LogAttackEvent logs a lifecycle transition for an attack.
func (l *Logger) LogAttackEvent(ctx context.Context, attackID, event string, fields map[string]interface{}) {
	e := l.WithContext(ctx).WithField("attack_id", attackID)
	if fields != nil {
		e = e.WithFields(fields)
	}
	e.Info(event)
}

// LogAgentRPC logs the outcome of an agent execute_request call.
func (l *Logger) LogAgentRPC(ctx context.Context, agentID string, duration time.Duration, err error) {
	e := l.WithContext(ctx).WithFields(map[string]interface{}{
		"agent_id":    agentID,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		e.WithField("error", err.Error()).Warn("agent rpc failed")
		return
	}
	e.Debug("agent rpc completed")
}
