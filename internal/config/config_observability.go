package config

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level: debug | info | warn | error. Default: "info".
	Level string `yaml:"level"`

	// Format: json | text. Default: "json".
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are extra regexes redacted from log output, on top of
	// the built-in secret patterns.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics. Default: false.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Default: ":9090" when enabled.
	Addr string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing. Tracing is a no-op unless
// Endpoint is set.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}
