package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// exportPageSize bounds each repository read while streaming an export.
const exportPageSize = maxQueryLimit

var csvHeader = []string{"ID", "Timestamp", "UserID", "UserName", "EventType", "Category",
	"Severity", "ResourceType", "ResourceID", "Description", "IPAddress", "UserAgent", "CorrelationID"}

// forEach pages through every entry matching f, ignoring f's own limit and
// offset.
func forEach(ctx context.Context, repo Repository, f Filter, fn func(*Entry) error) error {
	f.Limit = exportPageSize
	f.Offset = 0
	for {
		page, err := repo.Query(ctx, f)
		if err != nil {
			return err
		}
		for _, e := range page.Entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		f.Offset += len(page.Entries)
		if len(page.Entries) == 0 || f.Offset >= page.Total {
			return nil
		}
	}
}

// ExportCSV writes every entry matching f as CSV. Metadata and state
// snapshots are not included.
func ExportCSV(ctx context.Context, repo Repository, f Filter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}

	err := forEach(ctx, repo, f, func(e *Entry) error {
		userID := ""
		if e.UserID != nil {
			userID = *e.UserID
		}
		record := []string{
			e.ID.String(),
			e.Timestamp.Format(time.RFC3339),
			userID,
			e.UserName,
			string(e.EventType),
			string(e.Category),
			string(e.Severity),
			e.ResourceType,
			e.ResourceID,
			e.Description,
			e.IPAddress,
			e.UserAgent,
			e.CorrelationID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("audit export csv: write record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// ExportJSON writes every entry matching f as a JSON array.
func ExportJSON(ctx context.Context, repo Repository, f Filter, w io.Writer) error {
	entries := make([]*Entry, 0)
	err := forEach(ctx, repo, f, func(e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("audit export json: %w", err)
	}
	return nil
}
