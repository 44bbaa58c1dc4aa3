// Package telemetry wraps the Sentry SDK for panic and error reporting
// around workflow execution, grounded on the teacher's
// internal/errortracking package.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/weaveflow/weaveflow/internal/config"
)

// Level represents the severity level of a captured event.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Message string
}

func (e ErrPanic) Error() string {
	return fmt.Sprintf("panic: %s", e.Message)
}

// Tracker wraps the Sentry SDK for error and panic reporting.
type Tracker struct {
	enabled bool
	client  sentryHub
}

// sentryHub is the subset of *sentry.Hub this package uses, narrowed so
// tests can substitute a mock without a live DSN.
type sentryHub interface {
	CaptureException(exception error) *sentry.EventID
	CaptureMessage(message string) *sentry.EventID
	AddBreadcrumb(breadcrumb *sentry.Breadcrumb, hint *sentry.BreadcrumbHint)
	ConfigureScope(f func(*sentry.Scope))
	WithScope(f func(*sentry.Scope))
	Flush(timeout time.Duration) bool
	Recover(err interface{}) *sentry.EventID
}

// Scope re-exports sentry.Scope so callers never import sentry-go directly.
type Scope = sentry.Scope

// Breadcrumb describes a single breadcrumb to attach to the active scope.
type Breadcrumb struct {
	Type      string
	Category  string
	Message   string
	Level     Level
	Data      map[string]interface{}
	Timestamp time.Time
}

// Initialize sets up Sentry reporting. A disabled config returns a tracker
// whose methods are all no-ops, so callers never need a nil check.
func Initialize(cfg config.ObservabilityConfig) (*Tracker, error) {
	tracker := &Tracker{
		enabled: cfg.SentryEnabled,
	}

	if !cfg.SentryEnabled {
		return tracker, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		TracesSampleRate: cfg.SentrySampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: initialize sentry: %w", err)
	}

	tracker.client = sentry.CurrentHub()
	return tracker, nil
}

// CaptureError reports err to Sentry, tagged with whatever workflow
// execution identifiers are present on ctx.
func (t *Tracker) CaptureError(ctx context.Context, err error) string {
	if !t.enabled || err == nil {
		return ""
	}

	tags := enrichContext(ctx)

	var eventID *sentry.EventID
	t.client.WithScope(func(scope *sentry.Scope) {
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		eventID = t.client.CaptureException(err)
	})

	if eventID != nil {
		return string(*eventID)
	}
	return ""
}

// CaptureErrorWithTags captures err with the context tags plus extra tags,
// extra taking precedence on key collision.
func (t *Tracker) CaptureErrorWithTags(ctx context.Context, err error, tags map[string]string) string {
	if !t.enabled || err == nil {
		return ""
	}

	merged := enrichContext(ctx)
	for key, value := range tags {
		merged[key] = value
	}

	var eventID *sentry.EventID
	t.client.WithScope(func(scope *sentry.Scope) {
		for key, value := range merged {
			scope.SetTag(key, value)
		}
		eventID = t.client.CaptureException(err)
	})

	if eventID != nil {
		return string(*eventID)
	}
	return ""
}

// CaptureMessage reports a message at the given severity level.
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level Level) string {
	if !t.enabled {
		return ""
	}

	tags := enrichContext(ctx)

	var eventID *sentry.EventID
	t.client.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(toSentryLevel(level))
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		eventID = t.client.CaptureMessage(message)
	})

	if eventID != nil {
		return string(*eventID)
	}
	return ""
}

// AddBreadcrumb records a breadcrumb on the active scope.
func (t *Tracker) AddBreadcrumb(ctx context.Context, breadcrumb Breadcrumb) {
	if !t.enabled {
		return
	}

	sentryBreadcrumb := &sentry.Breadcrumb{
		Type:      breadcrumb.Type,
		Category:  breadcrumb.Category,
		Message:   breadcrumb.Message,
		Level:     toSentryLevel(breadcrumb.Level),
		Data:      breadcrumb.Data,
		Timestamp: breadcrumb.Timestamp,
	}
	if sentryBreadcrumb.Timestamp.IsZero() {
		sentryBreadcrumb.Timestamp = time.Now()
	}

	t.client.AddBreadcrumb(sentryBreadcrumb, nil)
}

// RecoverPanic recovers from a panic in progress and reports it, flushing
// immediately since the process may be about to exit. Callers use it as
// `defer tracker.RecoverPanic(ctx)` at the top of a node execution or
// worker goroutine.
func (t *Tracker) RecoverPanic(ctx context.Context) {
	if !t.enabled {
		return
	}

	if err := recover(); err != nil {
		tags := enrichContext(ctx)

		t.client.WithScope(func(scope *sentry.Scope) {
			for key, value := range tags {
				scope.SetTag(key, value)
			}
			t.client.Recover(err)
		})

		t.client.Flush(2 * time.Second)
	}
}

// WithScope runs fn against a fresh Sentry scope pre-tagged from ctx.
func (t *Tracker) WithScope(ctx context.Context, fn func(*Scope)) {
	if !t.enabled {
		return
	}

	t.client.WithScope(func(scope *sentry.Scope) {
		tags := enrichContext(ctx)
		for key, value := range tags {
			scope.SetTag(key, value)
		}
		fn(scope)
	})
}

// Flush blocks until the underlying client has sent any buffered events, or
// timeout elapses.
func (t *Tracker) Flush(timeout time.Duration) {
	if !t.enabled {
		return
	}
	t.client.Flush(timeout)
}

// Close flushes and releases the Sentry client. Call once at process
// shutdown.
func (t *Tracker) Close() {
	if !t.enabled {
		return
	}
	t.client.Flush(5 * time.Second)
}

// enrichContext extracts the workflow execution identifiers this subsystem
// carries on ctx (set by the orchestrator and node dispatch), for tagging
// every captured event without the caller having to pass them separately.
func enrichContext(ctx context.Context) map[string]string {
	tags := make(map[string]string)

	if workflowID, ok := ctx.Value(workflowIDKey).(string); ok && workflowID != "" {
		tags["workflow_id"] = workflowID
	}
	if executionID, ok := ctx.Value(executionIDKey).(string); ok && executionID != "" {
		tags["execution_id"] = executionID
	}
	if nodeID, ok := ctx.Value(nodeIDKey).(string); ok && nodeID != "" {
		tags["node_id"] = nodeID
	}

	return tags
}

type contextKey string

const (
	workflowIDKey  contextKey = "telemetry_workflow_id"
	executionIDKey contextKey = "telemetry_execution_id"
	nodeIDKey      contextKey = "telemetry_node_id"
)

// WithWorkflowContext returns a context carrying the identifiers
// enrichContext reads, for call sites that want every subsequent
// CaptureError/RecoverPanic automatically tagged.
func WithWorkflowContext(ctx context.Context, workflowID, executionID, nodeID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey, workflowID)
	ctx = context.WithValue(ctx, executionIDKey, executionID)
	if nodeID != "" {
		ctx = context.WithValue(ctx, nodeIDKey, nodeID)
	}
	return ctx
}

// toSentryLevel converts Level to sentry.Level.
func toSentryLevel(level Level) sentry.Level {
	switch level {
	case LevelDebug:
		return sentry.LevelDebug
	case LevelInfo:
		return sentry.LevelInfo
	case LevelWarning:
		return sentry.LevelWarning
	case LevelError:
		return sentry.LevelError
	case LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}
