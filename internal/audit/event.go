package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies what happened
type EventType string

const (
	EventTypeAuthzDecision      EventType = "authz_decision"
	EventTypeAuthzConflict      EventType = "authz_conflict"
	EventTypeEmergencyAccess    EventType = "emergency_access"
	EventTypeRateLimitViolation EventType = "rate_limit_violation"
	EventTypeDelegationChange   EventType = "delegation_change"
	EventTypeOverrideChange     EventType = "override_change"
	EventTypeCacheInvalidation  EventType = "cache_invalidation"
	EventTypeAdminAction        EventType = "admin_action"
	EventTypeSystemStartup      EventType = "system_startup"
	EventTypeSystemShutdown     EventType = "system_shutdown"
)

// Category groups events for filtering
type Category string

const (
	CategoryAuthorization Category = "authorization"
	CategorySecurity      Category = "security"
	CategoryLifecycle     Category = "lifecycle"
	CategoryAdmin         Category = "admin"
	CategorySystem        Category = "system"
)

// Severity ranks how urgent an event is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one audit record
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventID     string                 `json:"event_id"`
	EventType   EventType              `json:"event_type"`
	Category    Category               `json:"category"`
	Description string                 `json:"description"`
	Actor       string                 `json:"actor,omitempty"`
	Target      string                 `json:"target,omitempty"`
	Severity    Severity               `json:"severity"`
	Success     bool                   `json:"success"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Fields carries the optional parts of a record
type Fields struct {
	Actor    string
	Target   string
	Severity Severity
	Success  bool
	Data     map[string]interface{}
}

func newEvent(eventType EventType, category Category, description string, fields Fields) *Event {
	severity := fields.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	return &Event{
		Timestamp:   time.Now(),
		EventID:     "evt-" + uuid.NewString(),
		EventType:   eventType,
		Category:    category,
		Description: description,
		Actor:       fields.Actor,
		Target:      fields.Target,
		Severity:    severity,
		Success:     fields.Success,
		Data:        fields.Data,
	}
}
