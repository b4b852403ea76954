package hipaa

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetentionPolicy says how long records of one type are kept. Zero
// ArchiveAfterDays or PurgeAfterDays means never.
type RetentionPolicy struct {
	RecordType       string `json:"record_type"`
	RetentionDays    int    `json:"retention_days"`
	ArchiveAfterDays int    `json:"archive_after_days,omitempty"`
	PurgeAfterDays   int    `json:"purge_after_days,omitempty"`
	Description      string `json:"description"`
}

// Retention states, from least to most expired.
const (
	RetentionStateActive          = "active"
	RetentionStateArchiveEligible = "archive_eligible"
	RetentionStatePurgeEligible   = "purge_eligible"
)

// RetentionStatus is the lifecycle state of one record.
type RetentionStatus struct {
	RecordType string    `json:"record_type"`
	State      string    `json:"state"`
	NextChange time.Time `json:"next_change,omitempty"`
	Known      bool      `json:"known"`
}

// AuditLogPurgeDays is the seven-year audit retention.
const AuditLogPurgeDays = 2555

// DefaultRetentionPolicies returns the revenue-cycle record policies.
// Financial records follow the IRS/CMS seven-year rule; audit trails meet
// the HIPAA six-year minimum and are purged after seven.
func DefaultRetentionPolicies() []RetentionPolicy {
	return []RetentionPolicy{
		{
			RecordType:       "claim",
			RetentionDays:    2555,
			ArchiveAfterDays: 1095,
			PurgeAfterDays:   3650,
			Description:      "Claims and claim attachments: 7 years after final adjudication",
		},
		{
			RecordType:       "billing_record",
			RetentionDays:    2555,
			ArchiveAfterDays: 1825,
			PurgeAfterDays:   2920,
			Description:      "Billing records: 7 years per IRS and CMS requirements",
		},
		{
			RecordType:       "payment",
			RetentionDays:    2555,
			ArchiveAfterDays: 1825,
			PurgeAfterDays:   2920,
			Description:      "Payments and remittance advice: 7 years",
		},
		{
			RecordType:       "audit_log",
			RetentionDays:    2190,
			ArchiveAfterDays: 1095,
			PurgeAfterDays:   AuditLogPurgeDays,
			Description:      "Audit logs: 6-year HIPAA minimum, purged after 7 years",
		},
		{
			RecordType:       "client_record",
			RetentionDays:    2190,
			ArchiveAfterDays: 1825,
			Description:      "Client demographics and PHI: 6 years from last date of service, never purged automatically",
		},
		{
			RecordType:     "temporary_data",
			RetentionDays:  90,
			PurgeAfterDays: 90,
			Description:    "Imports, exports and staging data: 90 days",
		},
	}
}

// RetentionService evaluates records against retention policies.
type RetentionService struct {
	mu       sync.RWMutex
	policies map[string]RetentionPolicy
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRetentionService(policies []RetentionPolicy, logger zerolog.Logger) *RetentionService {
	m := make(map[string]RetentionPolicy, len(policies))
	for _, p := range policies {
		m[p.RecordType] = p
	}
	return &RetentionService{
		policies: m,
		logger:   logger.With().Str("component", "retention").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the policy for recordType, or nil.
func (s *RetentionService) Policy(recordType string) *RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[recordType]
	if !ok {
		return nil
	}
	return &p
}

// Policies returns every policy ordered by record type.
func (s *RetentionService) Policies() []RetentionPolicy {
	s.mu.RLock()
	out := make([]RetentionPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RecordType < out[j].RecordType })
	return out
}

// Evaluate reports whether a record created at createdAt is active, may be
// archived, or may be purged. Unknown record types are always active.
func (s *RetentionService) Evaluate(recordType string, createdAt time.Time) RetentionStatus {
	p := s.Policy(recordType)
	if p == nil {
		s.logger.Debug().Str("record_type", recordType).Msg("no retention policy")
		return RetentionStatus{RecordType: recordType, State: RetentionStateActive}
	}

	ageDays := int(s.now().Sub(createdAt).Hours() / 24)
	after := func(days int) time.Time { return createdAt.AddDate(0, 0, days) }
	st := RetentionStatus{RecordType: recordType, Known: true}

	switch {
	case p.PurgeAfterDays > 0 && ageDays >= p.PurgeAfterDays:
		st.State = RetentionStatePurgeEligible
	case p.ArchiveAfterDays > 0 && ageDays >= p.ArchiveAfterDays:
		st.State = RetentionStateArchiveEligible
		if p.PurgeAfterDays > 0 {
			st.NextChange = after(p.PurgeAfterDays)
		}
	default:
		st.State = RetentionStateActive
		switch {
		case p.ArchiveAfterDays > 0:
			st.NextChange = after(p.ArchiveAfterDays)
		case p.PurgeAfterDays > 0:
			st.NextChange = after(p.PurgeAfterDays)
		}
	}
	return st
}
