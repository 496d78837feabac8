package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"siteplan/observability"
)

const (
	tracerName         = "siteplan/api"
	requestEventName   = "api.request"
	requestEventDomain = "api"
	metricsContextKey  = "siteplan.request.metrics"
	attrPrefix         = "siteplan.request."
)

// requestMetrics collects timings and attributes of one request and emits
// them as a single observability event when the request completes.
type requestMetrics struct {
	logger       *log.Logger
	span         trace.Span
	route        string
	method       string
	start        time.Time
	authDuration time.Duration
	attrs        []attribute.KeyValue
	errorStage   string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		method: method,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) SetInt(name string, v int) {
	if m == nil {
		return
	}
	m.attrs = append(m.attrs, attribute.Int(attrPrefix+name, v))
}

func (m *requestMetrics) SetBool(name string, v bool) {
	if m == nil {
		return
	}
	m.attrs = append(m.attrs, attribute.Bool(attrPrefix+name, v))
}

func (m *requestMetrics) SetString(name, v string) {
	if m == nil || v == "" {
		return
	}
	m.attrs = append(m.attrs, attribute.String(attrPrefix+name, v))
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits the event and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	attrs = append(attrs, m.attrs...)

	observability.Emit(m.logger, m.span, observability.Event{
		Name:       requestEventName,
		Domain:     requestEventDomain,
		Severity:   observability.SeverityForStatus(status, err),
		Attributes: attrs,
		Err:        err,
	})
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// RequestMetricsMiddleware opens a span per request and logs one
// observability event once the handler returns.
func RequestMetricsMiddleware(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			metrics, ctx := newRequestMetrics(req.Context(), logger, req.Method, route)
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsContextKey, metrics)

			err := next(c)

			status := c.Response().Status
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				status = httpErr.Code
				if status < http.StatusInternalServerError {
					metrics.SetErrorStage("request")
					metrics.Log(status, nil)
					return err
				}
			}
			metrics.Log(status, err)
			return err
		}
	}
}

// metricsFrom returns the request's collector; the nil collector is a no-op.
func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
