package audit

import (
	"context"
	"sort"
)

// Repository persists audit entries. There is no update or delete.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter) (*Page, error)
	Summarize(ctx context.Context, f Filter) (*Summary, error)
}

// matchEntry returns true if the entry matches all non-zero filter criteria.
func matchEntry(e *Entry, f Filter) bool {
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

func sortEntries(entries []*Entry, order string) {
	sort.SliceStable(entries, func(i, j int) bool {
		if order == "asc" {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
