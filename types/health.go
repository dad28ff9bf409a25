package types

// Health status constants represent the operational state of the cache engine
// or one of its snapshot stores.
const (
	// StatusHealthy indicates the cache is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the cache is serving requests but a
	// subsystem is reporting trouble, such as failing snapshot writes.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the cache cannot serve requests.
	StatusUnhealthy = "unhealthy"
)

// HealthStatus reports the outcome of a health probe together with
// diagnostic context such as item counts, memory usage, or the last
// persistence error.
type HealthStatus struct {
	// Status is the current health state (healthy, degraded, or unhealthy).
	Status string `json:"status"`

	// Message provides a human-readable description of the health status.
	Message string `json:"message,omitempty"`

	// Details carries diagnostic fields for monitoring endpoints.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (h HealthStatus) IsHealthy() bool {
	return h.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (h HealthStatus) IsDegraded() bool {
	return h.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (h HealthStatus) IsUnhealthy() bool {
	return h.Status == StatusUnhealthy
}

// WithDetail returns a copy of the status with an additional diagnostic
// field. The receiver is not modified.
func (h HealthStatus) WithDetail(key string, value any) HealthStatus {
	details := make(map[string]any, len(h.Details)+1)
	for k, v := range h.Details {
		details[k] = v
	}
	details[key] = value
	h.Details = details
	return h
}

// NewHealthyStatus creates a new healthy status with an optional message.
func NewHealthyStatus(message string) HealthStatus {
	return HealthStatus{
		Status:  StatusHealthy,
		Message: message,
	}
}

// NewDegradedStatus creates a new degraded status with a message and optional details.
func NewDegradedStatus(message string, details map[string]any) HealthStatus {
	return HealthStatus{
		Status:  StatusDegraded,
		Message: message,
		Details: details,
	}
}

// NewUnhealthyStatus creates a new unhealthy status with a message and optional details.
func NewUnhealthyStatus(message string, details map[string]any) HealthStatus {
	return HealthStatus{
		Status:  StatusUnhealthy,
		Message: message,
		Details: details,
	}
}
