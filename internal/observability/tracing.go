package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationPrefix = "github.com/your-org/absens/"

// Tracer returns a named tracer from the global provider. Spans are no-ops unless the
// host process installs an SDK provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}
