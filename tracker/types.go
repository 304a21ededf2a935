package tracker

import "time"

// AccessEvent is one request observation. Events are immutable once
// ingested and retained only while they survive compaction.
type AccessEvent struct {
	IP         string    `json:"ip"`
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	UserID     string    `json:"user_id,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
}

// IPStats is the per-IP aggregate exposed to callers. Set fields are
// insertion-ordered copies of the capped internal sets.
type IPStats struct {
	IP              string    `json:"ip"`
	Total           int       `json:"total"`
	Failed          int       `json:"failed"`
	Success         int       `json:"success"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Endpoints       []string  `json:"endpoints"`
	UserAgents      []string  `json:"user_agents"`
	UserIDs         []string  `json:"user_ids"`
	SuspiciousScore int       `json:"suspicious_score"`
}

// AlertType classifies a security alert.
type AlertType string

const (
	AlertBruteForce             AlertType = "bruteForce"
	AlertRateLimitExceeded      AlertType = "rateLimitExceeded"
	AlertSuspiciousIP           AlertType = "suspiciousIP"
	AlertGeoAnomaly             AlertType = "geoAnomaly"
	AlertNewIPForUser           AlertType = "newIPForUser"
	AlertMultipleFailedAttempts AlertType = "multipleFailedAttempts"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is produced by Track as a value; its fate (dispatch, persistence,
// enforcement beyond ShouldBlock) is decided by the caller.
type Alert struct {
	Type        AlertType      `json:"type"`
	Severity    Severity       `json:"severity"`
	IP          string         `json:"ip"`
	UserID      string         `json:"user_id,omitempty"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ShouldBlock bool           `json:"should_block"`
}

// GeoLocation is the result of the optional geo-resolver hook.
type GeoLocation struct {
	Country string `json:"country"`
	Region  string `json:"region"`
}

// Summary is the tracker-wide aggregate view.
type Summary struct {
	TotalIPs       int        `json:"total_ips"`
	BlockedIPs     int        `json:"blocked_ips"`
	WhitelistedIPs int        `json:"whitelisted_ips"`
	SuspiciousIPs  int        `json:"suspicious_ips"`
	TotalRequests  int        `json:"total_requests"`
	TotalEvents    int        `json:"total_events"`
	OldestEvent    *time.Time `json:"oldest_event,omitempty"`
	MemoryBytes    int64      `json:"memory_bytes,omitempty"`
}
