package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "kanban-api/api"
	requestSpanName    = "kanban.http.request"
	requestEventName   = "kanban.request"
	requestEventDomain = "kanban.api"
	metricsMessage     = "request.metrics"
	metricsContextKey  = "request.metrics"
	attrPrefix         = "kanban.request."
)

type requestMetrics struct {
	logger          *log.Logger
	span            trace.Span
	start           time.Time
	method          string
	route           string
	serviceDuration time.Duration
	tasksReturned   int
	errorStage      string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		method:        method,
		route:         route,
		tasksReturned: -1,
	}, spanCtx
}

// RequestMetrics opens a span per request and logs one request.metrics entry
// when the handler returns.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			metrics, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsContextKey, metrics)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			metrics.Log(c.Response().Status, err)
			return nil
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveService(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.serviceDuration = d
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.method":           m.method,
		"http.route":            m.route,
		"http.status_code":      status,
		attrPrefix + "total_ms": durationToMillis(total),
	}
	kvs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(total)),
	}
	if m.serviceDuration > 0 {
		attrs[attrPrefix+"service_ms"] = durationToMillis(m.serviceDuration)
		kvs = append(kvs, attribute.Float64(attrPrefix+"service_ms", durationToMillis(m.serviceDuration)))
	}
	if m.tasksReturned >= 0 {
		attrs[attrPrefix+"tasks_returned"] = m.tasksReturned
		kvs = append(kvs, attribute.Int(attrPrefix+"tasks_returned", m.tasksReturned))
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
		kvs = append(kvs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs["error.message"] = err.Error()
		kvs = append(kvs, attribute.String("error.message", err.Error()))
	}

	var traceID string
	if m.span != nil {
		m.span.SetAttributes(kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, kvs...)
		m.span.AddEvent(metricsMessage, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(metricsMessage)
	case "WARN":
		entry.Warn(metricsMessage)
	default:
		entry.Info(metricsMessage)
	}
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
