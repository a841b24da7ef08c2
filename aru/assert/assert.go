package assert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/impulsar/lib-aru/aru/internal/nilcheck"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/opentelemetry/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanEventName is the event name recorded on spans when an assertion fails.
const SpanEventName = "assertion.failed"

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError represents a failed assertion with its context.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
	Details   string
}

// Error returns the formatted assertion failure message.
func (e *AssertionError) Error() string {
	if e == nil {
		return ErrAssertionFailed.Error()
	}

	if e.Details == "" {
		return "assertion failed: " + e.Message
	}

	return "assertion failed: " + e.Message + "\n" + e.Details
}

// Unwrap returns the sentinel assertion error for errors.Is.
func (e *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// Asserter evaluates invariants and emits telemetry on failure.
type Asserter struct {
	logger    alog.Logger
	component string
	operation string
}

// New creates an Asserter labelled with component and operation.
func New(logger alog.Logger, component, operation string) *Asserter {
	if logger == nil {
		logger = alog.NewNop()
	}

	return &Asserter{logger: logger, component: component, operation: operation}
}

// That returns an error if ok is false.
//
//	if err := a.That(ctx, total >= 0, "total must not be negative", "total", total); err != nil {
//		return err
//	}
func (a *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return a.fail(ctx, "That", msg, kv...)
}

// NotNil returns an error if v is nil, including typed nils.
func (a *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !nilcheck.Interface(v) {
		return nil
	}

	return a.fail(ctx, "NotNil", msg, kv...)
}

// NotEmpty returns an error if s is empty.
func (a *Asserter) NotEmpty(ctx context.Context, s, msg string, kv ...any) error {
	if s != "" {
		return nil
	}

	return a.fail(ctx, "NotEmpty", msg, kv...)
}

// Never always returns an error. Use it for unreachable branches.
func (a *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return a.fail(ctx, "Never", msg, kv...)
}

const maxValueLength = 200

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func (a *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, component, operation := alog.Logger(alog.NewNop()), "", ""
	if a != nil {
		logger, component, operation = a.logger, a.component, a.operation
	}

	details := formatKeyValueLines(kv)

	logger.Log(ctx, alog.LevelError, "ASSERTION FAILED: "+msg,
		alog.String("assertion", assertion),
		alog.String("component", component),
		alog.String("operation", operation),
		alog.String("details", details),
	)

	recordMetric(ctx, component, operation, assertion)
	recordSpan(ctx, assertion, msg, component, operation)

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: component,
		Operation: operation,
		Details:   details,
	}
}

func formatKeyValueLines(kv []any) string {
	if len(kv) == 0 {
		return ""
	}

	var sb strings.Builder

	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			sb.WriteString("\n")
		}

		var value any = "MISSING_VALUE"
		if i+1 < len(kv) {
			value = kv[i+1]
		}

		fmt.Fprintf(&sb, "    %v=%v", kv[i], truncateValue(value))
	}

	return sb.String()
}

// ---------------------------------------------------------------------------
// Observability
// ---------------------------------------------------------------------------

var (
	metricsFactory   *metrics.Factory
	metricsFactoryMu sync.RWMutex
)

// InitMetrics installs the factory used to count failed assertions. Calls
// after the first successful one are ignored.
func InitMetrics(factory *metrics.Factory) {
	metricsFactoryMu.Lock()
	defer metricsFactoryMu.Unlock()

	if factory == nil || metricsFactory != nil {
		return
	}

	metricsFactory = factory
}

// ResetMetrics clears the installed factory.
func ResetMetrics() {
	metricsFactoryMu.Lock()
	defer metricsFactoryMu.Unlock()

	metricsFactory = nil
}

func recordMetric(ctx context.Context, component, operation, assertion string) {
	metricsFactoryMu.RLock()
	factory := metricsFactory
	metricsFactoryMu.RUnlock()

	if factory == nil {
		return
	}

	counter, err := factory.Counter(metrics.MetricAssertionFailed)
	if err != nil {
		return
	}

	_ = counter.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
		attribute.String("assertion", assertion),
	).AddOne(ctx)
}

func recordSpan(ctx context.Context, assertion, message, component, operation string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.AddEvent(SpanEventName, trace.WithAttributes(
		attribute.String("assertion.name", assertion),
		attribute.String("assertion.message", message),
		attribute.String("assertion.component", component),
		attribute.String("assertion.operation", operation),
	))
	span.RecordError(fmt.Errorf("%w: %s", ErrAssertionFailed, message))
	span.SetStatus(codes.Error, "assertion failed in "+component+"/"+operation)
}
