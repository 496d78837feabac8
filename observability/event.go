// Package observability records structured events both as logrus entries and
// as OpenTelemetry span events, so the same attributes reach logs and traces.
package observability

import (
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventMessage is the log message and span event name of every event.
const EventMessage = "observability.event"

// Severity follows the OpenTelemetry log data model.
type Severity struct {
	Text   string
	Number int
}

var (
	SeverityInfo  = Severity{Text: "INFO", Number: 9}
	SeverityWarn  = Severity{Text: "WARN", Number: 13}
	SeverityError = Severity{Text: "ERROR", Number: 17}
)

func (s Severity) level() log.Level {
	switch s.Number {
	case SeverityError.Number:
		return log.ErrorLevel
	case SeverityWarn.Number:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

// SeverityForStatus maps an HTTP status and handler error to a severity.
func SeverityForStatus(status int, err error) Severity {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return SeverityError
	case status >= http.StatusBadRequest:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// Event is one observation.
type Event struct {
	Name       string
	Domain     string
	Severity   Severity
	Attributes []attribute.KeyValue
	Err        error
}

// Emit writes ev to logger and span, sets the span status and ends the span.
// Either sink may be nil.
func Emit(logger *log.Logger, span trace.Span, ev Event) {
	if ev.Severity.Text == "" {
		ev.Severity = SeverityInfo
	}
	attrs := append([]attribute.KeyValue{}, ev.Attributes...)
	if ev.Err != nil {
		attrs = append(attrs, attribute.String("error.message", ev.Err.Error()))
	}

	if span != nil {
		span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", ev.Name),
			attribute.String("event.domain", ev.Domain),
			attribute.String("severity_text", ev.Severity.Text),
			attribute.Int("severity_number", ev.Severity.Number),
		}, attrs...)
		span.AddEvent(EventMessage, trace.WithAttributes(eventAttrs...))
		switch {
		case ev.Err != nil:
			span.SetStatus(codes.Error, ev.Err.Error())
		case ev.Severity == SeverityError:
			span.SetStatus(codes.Error, ev.Name+" failed")
		default:
			span.SetStatus(codes.Ok, "")
		}
		defer span.End()
	}

	if logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      ev.Name,
		"event.domain":    ev.Domain,
		"severity_text":   ev.Severity.Text,
		"severity_number": ev.Severity.Number,
		"attributes":      attributeMap(attrs),
	}
	if span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	logger.WithFields(fields).Log(ev.Severity.level(), EventMessage)
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
