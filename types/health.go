package types

// HealthStatus is the state of the service or one of its dependencies.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "UP"
	HealthStatusDown     HealthStatus = "DOWN"
	HealthStatusDegraded HealthStatus = "DEGRADED"
)

type HealthComponent struct {
	Status  HealthStatus `json:"status"`
	Details string       `json:"details,omitempty"`
}

// RealtimeStats counts open inbox sessions and live transport subscriptions.
// Every bound session holds one subscription; the consumer holds one more.
type RealtimeStats struct {
	ActiveSessions      int `json:"activeSessions"`
	ActiveSubscriptions int `json:"activeSubscriptions"`
}

type HealthCheck struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]HealthComponent `json:"components"`
	Realtime   *RealtimeStats             `json:"realtime,omitempty"`
	Version    string                     `json:"version"`
	Timestamp  string                     `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
}
