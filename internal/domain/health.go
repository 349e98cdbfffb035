package domain

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual service.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	Version     string `json:"version,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// UpstreamHealth is the subset of the API's /health results we read.
type UpstreamHealth struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
	Mode    string `json:"mode,omitempty"`
}
