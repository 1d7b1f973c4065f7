package observability

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedTransport wraps a RoundTripper with a client span and the
// request counters/histograms.
type InstrumentedTransport struct {
	base http.RoundTripper
}

// NewInstrumentedTransport wraps base. A nil base uses http.DefaultTransport.
func NewInstrumentedTransport(base http.RoundTripper) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	ctx, span := Tracer(TracerName).Start(req.Context(), req.Method+" "+host,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod(req.Method),
			semconv.HTTPURL(req.URL.String()),
			semconv.NetPeerName(host),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	HTTPRequestDuration.WithLabelValues(req.Method, host).Observe(time.Since(start).Seconds())

	if err != nil {
		HTTPRequestsTotal.WithLabelValues(req.Method, "error", host).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	HTTPRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode), host).Inc()
	span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return resp, nil
}
