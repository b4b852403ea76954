package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func seedEntries(t *testing.T, repo Repository) time.Time {
	t.Helper()
	now := time.Now().UTC()
	entries := []*Entry{
		{UserID: strPtr("user-1"), EventType: EventLogin, Category: CategoryUserActivity, Severity: SeverityInfo, Timestamp: now.Add(-5 * time.Hour), Description: "login"},
		{UserID: strPtr("user-2"), EventType: EventRead, Category: CategoryDataAccess, Severity: SeverityInfo, ResourceType: "claim", ResourceID: "c-1", Timestamp: now.Add(-4 * time.Hour), CorrelationID: "req-9"},
		{UserID: strPtr("user-1"), EventType: EventUpdate, Category: CategoryDataChange, Severity: SeverityInfo, ResourceType: "claim", ResourceID: "c-1", Timestamp: now.Add(-3 * time.Hour)},
		{UserID: strPtr("user-3"), EventType: EventDelete, Category: CategoryDataChange, Severity: SeverityWarning, ResourceType: "payment", ResourceID: "p-4", Timestamp: now.Add(-2 * time.Hour)},
		{EventType: EventKeyRotated, Category: CategorySecurity, Severity: SeverityInfo, Timestamp: now.Add(-1 * time.Hour), Description: "key rotated"},
	}
	for _, e := range entries {
		if err := repo.Create(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	return now
}

func TestMemoryRepository_Create_AssignsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepository()
	e := &Entry{EventType: EventLogin}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected id to be assigned")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be assigned")
	}
}

func TestMemoryRepository_QueryFilters(t *testing.T) {
	repo := NewMemoryRepository()
	now := seedEntries(t, repo)
	from := now.Add(-210 * time.Minute)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 5},
		{"by user", Filter{UserID: "user-1"}, 2},
		{"by event type", Filter{EventType: EventDelete}, 1},
		{"by category", Filter{Category: CategoryDataChange}, 2},
		{"by severity", Filter{Severity: SeverityWarning}, 1},
		{"by resource", Filter{ResourceType: "claim", ResourceID: "c-1"}, 2},
		{"by correlation", Filter{CorrelationID: "req-9"}, 1},
		{"by time range", Filter{From: &from}, 3},
		{"combined", Filter{UserID: "user-1", Category: CategoryDataChange}, 1},
		{"no match", Filter{UserID: "nobody"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.Query(context.Background(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if page.Total != tt.want || len(page.Entries) != tt.want {
				t.Errorf("expected %d, got total=%d len=%d", tt.want, page.Total, len(page.Entries))
			}
		})
	}
}

func TestMemoryRepository_QueryPaginationAndOrder(t *testing.T) {
	repo := NewMemoryRepository()
	seedEntries(t, repo)
	ctx := context.Background()

	page, err := repo.Query(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Entries) != 2 {
		t.Fatalf("unexpected page %d/%d", len(page.Entries), page.Total)
	}
	if page.Entries[0].EventType != EventKeyRotated {
		t.Errorf("default order should be newest first, got %s", page.Entries[0].EventType)
	}

	page, _ = repo.Query(ctx, Filter{Limit: 2, Offset: 4, SortOrder: "asc"})
	if len(page.Entries) != 1 || page.Entries[0].EventType != EventKeyRotated {
		t.Errorf("unexpected last ascending page: %+v", page.Entries)
	}

	page, _ = repo.Query(ctx, Filter{Offset: 50})
	if len(page.Entries) != 0 || page.Total != 5 {
		t.Errorf("offset past end should return empty page, got %d", len(page.Entries))
	}

	page, _ = repo.Query(ctx, Filter{Limit: 5000})
	if page.Limit != maxQueryLimit {
		t.Errorf("limit should clamp to %d, got %d", maxQueryLimit, page.Limit)
	}
}

func TestMemoryRepository_Summarize(t *testing.T) {
	repo := NewMemoryRepository()
	seedEntries(t, repo)

	s, err := repo.Summarize(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalEntries != 5 {
		t.Errorf("expected 5, got %d", s.TotalEntries)
	}
	if s.ByCategory[string(CategoryDataChange)] != 2 || s.ByUser["user-1"] != 2 || s.ByUser["system"] != 1 {
		t.Errorf("unexpected breakdown %+v", s)
	}
	if s.BySeverity[string(SeverityWarning)] != 1 {
		t.Errorf("unexpected severity breakdown %v", s.BySeverity)
	}
	if s.First == nil || s.Last == nil || !s.First.Before(*s.Last) {
		t.Errorf("unexpected time range %v %v", s.First, s.Last)
	}
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = repo.Create(context.Background(), &Entry{EventType: EventRead})
		}()
		go func() {
			defer wg.Done()
			_, _ = repo.Query(context.Background(), Filter{})
		}()
	}
	wg.Wait()
	if repo.Len() != 50 {
		t.Errorf("expected 50 entries, got %d", repo.Len())
	}
}

func TestExportCSV(t *testing.T) {
	repo := NewMemoryRepository()
	seedEntries(t, repo)

	var buf bytes.Buffer
	if err := ExportCSV(context.Background(), repo, Filter{Category: CategoryDataChange}, &buf); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "ID" || records[0][4] != "EventType" {
		t.Errorf("unexpected header %v", records[0])
	}
}

func TestExportCSV_PagesThroughLargeResults(t *testing.T) {
	repo := NewMemoryRepository()
	for i := 0; i < maxQueryLimit+5; i++ {
		_ = repo.Create(context.Background(), &Entry{EventType: EventRead})
	}
	var buf bytes.Buffer
	if err := ExportCSV(context.Background(), repo, Filter{}, &buf); err != nil {
		t.Fatal(err)
	}
	records, _ := csv.NewReader(&buf).ReadAll()
	if len(records) != maxQueryLimit+6 {
		t.Errorf("expected %d rows, got %d", maxQueryLimit+6, len(records))
	}
}

func TestExportJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSON(context.Background(), NewMemoryRepository(), Filter{}, &buf); err != nil {
		t.Fatal(err)
	}
	var out []any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty array, got %s", buf.String())
	}
}
