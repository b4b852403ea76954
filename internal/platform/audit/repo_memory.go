package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps entries in process memory for development and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make([]*Entry, 0)}
}

func (r *MemoryRepository) Create(_ context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	cp := *e
	r.mu.Lock()
	r.entries = append(r.entries, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) filter(f Filter) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if matchEntry(e, f) {
			out = append(out, e)
		}
	}
	return out
}

func (r *MemoryRepository) Query(_ context.Context, f Filter) (*Page, error) {
	f.Normalize()
	filtered := r.filter(f)
	sortEntries(filtered, f.SortOrder)

	total := len(filtered)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}

	page := make([]*Entry, 0, end-start)
	page = append(page, filtered[start:end]...)
	return &Page{Entries: page, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (r *MemoryRepository) Summarize(_ context.Context, f Filter) (*Summary, error) {
	s := newSummary()
	for _, e := range r.filter(f) {
		s.add(e)
	}
	return s, nil
}

// Len returns the number of stored entries.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
