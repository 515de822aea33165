package health

import "time"

// Status represents the overall health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthStatus represents the complete health status of the bridge
type HealthStatus struct {
	Status       Status        `json:"status"`
	Timestamp    time.Time     `json:"timestamp"`
	PeerStatus   []*PeerHealth `json:"peers,omitempty"`
	SystemStatus *SystemHealth `json:"system,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
}

// PeerHealth represents one peer link's health
type PeerHealth struct {
	Status          Status    `json:"status"`
	Name            string    `json:"name"`
	Endpoint        string    `json:"endpoint"`
	Connected       bool      `json:"connected"`
	LinkStatus      string    `json:"link_status"`
	SelectedVersion string    `json:"selected_version,omitempty"`
	LastActivity    time.Time `json:"last_activity,omitempty"`
	BackoffAttempts int       `json:"backoff_attempts,omitempty"`
	QueueDepth      int       `json:"queue_depth"`
	Error           string    `json:"error,omitempty"`
}

// SystemHealth represents system resource health
type SystemHealth struct {
	Status        Status  `json:"status"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskUsedGB    uint64  `json:"disk_used_gb"`
	DiskTotalGB   uint64  `json:"disk_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
	GoRoutines    int     `json:"goroutines"`
	Error         string  `json:"error,omitempty"`
}
