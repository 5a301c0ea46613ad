package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are polled by load balancers and scrapers; tracing them only adds noise
var untracedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Telemetry wraps an http.Handler with otelhttp instrumentation: request
// duration, active requests, body sizes, and W3C trace context extraction so
// vendor callbacks that carry a traceparent join the caller's trace.
// Health checks and metric scrapes are not traced.
func Telemetry(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "finlink-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !untracedPaths[r.URL.Path]
		}),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method
		}),
	)
}
