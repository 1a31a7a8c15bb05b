package directory

import "time"

// ServerKind classifies where a directory entry came from.
type ServerKind string

const (
	ServerKindPrimary   ServerKind = "primary"
	ServerKindFallback  ServerKind = "fallback"
	ServerKindCommunity ServerKind = "community"
	ServerKindCustom    ServerKind = "custom"
)

// HealthStatus is the outcome class of a probe.
type HealthStatus string

const (
	StatusOnline   HealthStatus = "online"
	StatusDegraded HealthStatus = "degraded"
	StatusOffline  HealthStatus = "offline"
	StatusTimeout  HealthStatus = "timeout"
	StatusError    HealthStatus = "error"
	StatusUnknown  HealthStatus = "unknown"
)

// HealthResult is the latest probe outcome for one server. The
// directory keeps only the most recent result per URL.
type HealthResult struct {
	Status    HealthStatus   `json:"status"`
	Latency   *time.Duration `json:"latency,omitempty"`
	Online    bool           `json:"online"`
	CheckedAt time.Time      `json:"checked_at"`
}

// ServerDescriptor is one known relay server, annotated with its last
// known health.
type ServerDescriptor struct {
	Name     string       `json:"name"`
	URL      string       `json:"url"`
	Kind     ServerKind   `json:"kind"`
	Region   string       `json:"region,omitempty"`
	Features []string     `json:"features,omitempty"`
	Health   HealthResult `json:"health"`
}
