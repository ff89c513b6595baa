package models

import "time"

// SecurityEventKind classifies monitored events.
type SecurityEventKind string

const (
	EventAuthFailed         SecurityEventKind = "auth_failed"
	EventRateLimitExceeded  SecurityEventKind = "rate_limit_exceeded"
	EventForbiddenAccess    SecurityEventKind = "forbidden_access"
	EventLockout            SecurityEventKind = "lockout"
	EventSuspiciousActivity SecurityEventKind = "suspicious_activity"
)

// Severity ranks security events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Elevated reports whether the event deserves operator attention.
func (s Severity) Elevated() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// SecurityEvent is one audited security-relevant occurrence.
type SecurityEvent struct {
	ID        string            `bson:"_id" json:"id"`
	Kind      SecurityEventKind `bson:"kind" json:"kind"`
	Severity  Severity          `bson:"severity" json:"severity"`
	UserID    string            `bson:"user_id,omitempty" json:"user_id,omitempty"`
	IP        string            `bson:"ip,omitempty" json:"ip,omitempty"`
	Path      string            `bson:"path,omitempty" json:"path,omitempty"`
	Details   map[string]string `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
}

// RateLimitStatus describes a caller's current token bucket.
type RateLimitStatus struct {
	Key        string  `json:"key"`
	PerSecond  float64 `json:"per_second"`
	Burst      int     `json:"burst"`
	Available  float64 `json:"available"`
	LockedOut  bool    `json:"locked_out"`
	RetryAfter float64 `json:"retry_after_seconds,omitempty"`
}
