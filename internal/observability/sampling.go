package observability

import (
	"os"
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Standard OTEL sampler env vars; read here rather than in config.
const (
	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

// newSampler builds the sampler named by OTEL_TRACES_SAMPLER. Empty or unknown
// values fall back to parentbased_always_on, the SDK default.
func newSampler() sdktrace.Sampler {
	ratio := parseTraceIDRatio(os.Getenv(envTracesSamplerArg))

	samplers := map[string]sdktrace.Sampler{
		"always_on":                sdktrace.AlwaysSample(),
		"always_off":               sdktrace.NeverSample(),
		"traceidratio":             sdktrace.TraceIDRatioBased(ratio),
		"parentbased_traceidratio": sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)),
		"parentbased_always_off":   sdktrace.ParentBased(sdktrace.NeverSample()),
	}

	if s, ok := samplers[os.Getenv(envTracesSampler)]; ok {
		return s
	}

	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

// parseTraceIDRatio parses a ratio in [0, 1]; anything else samples everything.
func parseTraceIDRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return 1.0
	}

	return f
}
