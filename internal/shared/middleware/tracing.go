package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	httpTracer             = otel.Tracer("finlink/http")
	httpMeter              = otel.Meter("finlink/http")
	httpRequestDuration, _ = httpMeter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	httpRequestTotal, _ = httpMeter.Int64Counter("http.server.request.total",
		metric.WithDescription("Total HTTP requests"),
	)
	providerCallbackTotal, _ = httpMeter.Int64Counter("finlink.provider.callback.total",
		metric.WithDescription("Vendor webhook deliveries by provider and status"),
	)
)

// unmatchedRoute labels requests chi could not route, keeping metric cardinality bounded
const unmatchedRoute = "unmatched"

// Tracing opens a span per request and records request metrics. Spans and
// metrics are named after the chi route pattern, not the raw path, and carry
// the {provider} URL parameter when the route has one.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := httpTracer.Start(r.Context(), r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := wrapResponseWriter(w)
		r = r.WithContext(ctx)
		next.ServeHTTP(wrapped, r)

		status := wrapped.status
		if status == 0 {
			status = http.StatusOK
		}
		route, providerName := routeOf(r)

		span.SetName(r.Method + " " + route)
		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		if providerName != "" {
			attrs = append(attrs, attribute.String("finlink.provider", providerName))
		}
		span.SetAttributes(attrs...)
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		httpRequestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		httpRequestTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
		if providerName != "" && route == providerCallbackPrefix+"{provider}" {
			providerCallbackTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("finlink.provider", providerName),
				attribute.Int("http.status_code", status),
			))
		}
	})
}

// routeOf returns the matched chi pattern and the provider URL parameter.
// Both are only known once the router has run.
func routeOf(r *http.Request) (route, providerName string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute, ""
	}
	route = rctx.RoutePattern()
	if route == "" {
		route = unmatchedRoute
	}
	return route, rctx.URLParam("provider")
}
