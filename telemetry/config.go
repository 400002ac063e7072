package telemetry

// Config configures the telemetry registry. ServiceName identifies this
// process in trace/metric resource attributes; Endpoint is the OTLP/HTTP
// collector address (host:port, no scheme).
type Config struct {
	ServiceName string
	Endpoint    string
}
