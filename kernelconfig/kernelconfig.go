// Package kernelconfig holds the kernel's own operational configuration —
// the workspace base directory, idempotency retention, Redis backing for
// the fingerprint cache, and observability knobs. It deliberately excludes
// anything that belongs to a caller's Request (mode, timeouts per-call):
// those travel with the envelope itself, not the process.
package kernelconfig

import "sync"

// Config holds the kernel's process-level configuration.
type Config struct {
	// Workspace
	WorkspaceBaseDir string `json:"workspace_base_dir"`

	// Idempotency
	IdempotencyDefaultTTLMs int64  `json:"idempotency_default_ttl_ms"`
	RedisAddr               string `json:"redis_addr"` // empty selects the in-memory cache

	// Observability
	LogLevel       string  `json:"log_level"`
	MetricsAddr    string  `json:"metrics_addr"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	TraceSampleRatio float64 `json:"trace_sample_ratio"` // 0 selects AlwaysSample

	// HTTP binding
	HTTPAddr string `json:"http_addr"`
}

// DefaultConfig returns a Config with the kernel's default values.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceBaseDir:        "./data/workspace",
		IdempotencyDefaultTTLMs: 600_000, // matches protocol.DefaultMode's TimeoutMS
		RedisAddr:               "",
		LogLevel:                "INFO",
		MetricsAddr:             ":9090",
		OTLPEndpoint:            "localhost:4317",
		TraceSampleRatio:        0,
		HTTPAddr:                ":8080",
	}
}

// FromMap builds a Config from a decoded JSON/YAML map, starting from
// DefaultConfig and overriding only recognized keys. Unknown keys are
// ignored.
func FromMap(config map[string]any) *Config {
	c := DefaultConfig()

	if v, ok := config["workspace_base_dir"].(string); ok {
		c.WorkspaceBaseDir = v
	}
	if v, ok := stringOrFloatAsInt64(config["idempotency_default_ttl_ms"]); ok {
		c.IdempotencyDefaultTTLMs = v
	}
	if v, ok := config["redis_addr"].(string); ok {
		c.RedisAddr = v
	}
	if v, ok := config["log_level"].(string); ok {
		c.LogLevel = v
	}
	if v, ok := config["metrics_addr"].(string); ok {
		c.MetricsAddr = v
	}
	if v, ok := config["otlp_endpoint"].(string); ok {
		c.OTLPEndpoint = v
	}
	if v, ok := config["trace_sample_ratio"].(float64); ok {
		c.TraceSampleRatio = v
	}
	if v, ok := config["http_addr"].(string); ok {
		c.HTTPAddr = v
	}

	return c
}

func stringOrFloatAsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ToMap converts c to a map suitable for JSON serialization or logging.
func (c *Config) ToMap() map[string]any {
	return map[string]any{
		"workspace_base_dir":         c.WorkspaceBaseDir,
		"idempotency_default_ttl_ms": c.IdempotencyDefaultTTLMs,
		"redis_addr":                 c.RedisAddr,
		"log_level":                  c.LogLevel,
		"metrics_addr":               c.MetricsAddr,
		"otlp_endpoint":              c.OTLPEndpoint,
		"trace_sample_ratio":         c.TraceSampleRatio,
		"http_addr":                  c.HTTPAddr,
	}
}

// =============================================================================
// GLOBAL CONFIG (set by cmd/esrpd bootstrap)
// =============================================================================

var (
	global   *Config
	globalMu sync.RWMutex
)

// Get returns the process-wide Config, or DefaultConfig if none has been
// injected yet.
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return DefaultConfig()
	}
	return global
}

// Set installs cfg as the process-wide Config. Called once by cmd/esrpd
// after parsing flags/environment.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cfg
}

// Reset clears the process-wide Config so Get returns defaults again.
// Intended for test isolation.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}
