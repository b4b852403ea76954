package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL-backed Repository over the audit_log
// table.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

const entryColumns = `id, user_id, user_name, event_type, category, resource_type, resource_id,
	description, severity, metadata, before_state, after_state, ip_address, user_agent,
	correlation_id, created_at`

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	metadata, err := marshalJSONB(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	before, err := marshalJSONB(e.Before)
	if err != nil {
		return fmt.Errorf("audit: marshal before: %w", err)
	}
	after, err := marshalJSONB(e.After)
	if err != nil {
		return fmt.Errorf("audit: marshal after: %w", err)
	}

	// Written outside any request transaction.
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		e.ID, e.UserID, e.UserName, string(e.EventType), string(e.Category), e.ResourceType, e.ResourceID,
		e.Description, string(e.Severity), metadata, before, after, e.IPAddress, e.UserAgent,
		e.CorrelationID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

func (r *repoPG) Query(ctx context.Context, f Filter) (*Page, error) {
	f.Normalize()
	where, args := whereClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("audit: count entries: %w", err)
	}

	order := "DESC"
	if f.SortOrder == "asc" {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM audit_log%s ORDER BY created_at %s LIMIT $%d OFFSET $%d`,
		entryColumns, where, order, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (r *repoPG) Summarize(ctx context.Context, f Filter) (*Summary, error) {
	where, args := whereClause(f)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT event_type, category, severity, COALESCE(user_id, 'system'), COUNT(*), MIN(created_at), MAX(created_at)
		FROM audit_log`+where+`
		GROUP BY event_type, category, severity, COALESCE(user_id, 'system')`, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: summarize: %w", err)
	}
	defer rows.Close()

	s := newSummary()
	for rows.Next() {
		var (
			eventType, category, severity, user string
			count                               int
			first, last                         time.Time
		)
		if err := rows.Scan(&eventType, &category, &severity, &user, &count, &first, &last); err != nil {
			return nil, fmt.Errorf("audit: scan summary: %w", err)
		}
		s.TotalEntries += count
		s.ByEventType[eventType] += count
		s.ByCategory[category] += count
		s.BySeverity[severity] += count
		s.ByUser[user] += count
		if s.First == nil || first.Before(*s.First) {
			t := first
			s.First = &t
		}
		if s.Last == nil || last.After(*s.Last) {
			t := last
			s.Last = &t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate summary: %w", err)
	}
	return s, nil
}

func whereClause(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.EventType != "" {
		add("event_type = $%d", string(f.EventType))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                       Entry
		eventType, cat, sev     string
		metadata, before, after []byte
	)
	err := row.Scan(&e.ID, &e.UserID, &e.UserName, &eventType, &cat, &e.ResourceType, &e.ResourceID,
		&e.Description, &sev, &metadata, &before, &after, &e.IPAddress, &e.UserAgent,
		&e.CorrelationID, &e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("audit: scan entry: %w", err)
	}
	e.EventType = EventType(eventType)
	e.Category = Category(cat)
	e.Severity = Severity(sev)
	if e.Metadata, err = unmarshalJSONB(metadata); err != nil {
		return nil, err
	}
	if e.Before, err = unmarshalJSONB(before); err != nil {
		return nil, err
	}
	if e.After, err = unmarshalJSONB(after); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalJSONB(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("audit: decode jsonb: %w", err)
	}
	return m, nil
}
