package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
)

// Propagator carries W3C trace context and baggage across process
// boundaries. Setup installs it globally.
var Propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// HTTPHandler wraps h with a server span per request. The span continues
// any inbound traceparent, so spans started further in join the caller's
// trace.
func HTTPHandler(h http.Handler, operation string, opts ...otelhttp.Option) http.Handler {
	opts = append([]otelhttp.Option{otelhttp.WithPropagators(Propagator)}, opts...)
	return otelhttp.NewHandler(h, operation, opts...)
}
