// Package audit records security-relevant events for compliance review.
// Entries are append-only: the application creates and queries them but
// never updates or deletes them.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	EventLogin            EventType = "login"
	EventLogout           EventType = "logout"
	EventFailedLogin      EventType = "failed_login"
	EventRead             EventType = "read"
	EventCreate           EventType = "create"
	EventUpdate           EventType = "update"
	EventDelete           EventType = "delete"
	EventPasswordChange   EventType = "password_change"
	EventPermissionChange EventType = "permission_change"
	EventAccessDenied     EventType = "access_denied"
	EventExport           EventType = "export"
	EventPHIAccess        EventType = "phi_access"
	EventKeyRotated       EventType = "encryption_key_rotated"
)

// Category groups event types by the entry point that produced them.
type Category string

const (
	CategoryUserActivity Category = "user_activity"
	CategoryDataAccess   Category = "data_access"
	CategoryDataChange   Category = "data_change"
	CategorySecurity     Category = "security"
)

// Severity of an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity returns warning for failed logins and deletes, info
// otherwise.
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventFailedLogin, EventDelete:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Entry is a single audit record. UserID is nil for system events.
type Entry struct {
	ID            uuid.UUID      `json:"id"`
	UserID        *string        `json:"user_id,omitempty"`
	UserName      string         `json:"user_name,omitempty"`
	EventType     EventType      `json:"event_type"`
	Category      Category       `json:"category"`
	ResourceType  string         `json:"resource_type,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Description   string         `json:"description"`
	Severity      Severity       `json:"severity"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Actor returns the user id or "system".
func (e *Entry) Actor() string {
	if e.UserID == nil {
		return "system"
	}
	return *e.UserID
}

// Filter narrows an audit query. Zero-valued fields do not filter.
type Filter struct {
	UserID        string
	EventType     EventType
	Category      Category
	Severity      Severity
	ResourceType  string
	ResourceID    string
	CorrelationID string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
	SortOrder     string
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Normalize applies the default limit and sort order and clamps bad values.
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

// Page is one page of query results.
type Page struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Summary aggregates entries matching a filter.
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	ByEventType  map[string]int `json:"by_event_type"`
	ByCategory   map[string]int `json:"by_category"`
	BySeverity   map[string]int `json:"by_severity"`
	ByUser       map[string]int `json:"by_user"`
	First        *time.Time     `json:"first,omitempty"`
	Last         *time.Time     `json:"last,omitempty"`
}

func newSummary() *Summary {
	return &Summary{
		ByEventType: make(map[string]int),
		ByCategory:  make(map[string]int),
		BySeverity:  make(map[string]int),
		ByUser:      make(map[string]int),
	}
}

func (s *Summary) add(e *Entry) {
	s.TotalEntries++
	s.ByEventType[string(e.EventType)]++
	s.ByCategory[string(e.Category)]++
	s.BySeverity[string(e.Severity)]++
	s.ByUser[e.Actor()]++

	ts := e.Timestamp
	if s.First == nil || ts.Before(*s.First) {
		s.First = &ts
	}
	if s.Last == nil || ts.After(*s.Last) {
		s.Last = &ts
	}
}
