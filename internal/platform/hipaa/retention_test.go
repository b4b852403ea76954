package hipaa

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRetention(now time.Time) *RetentionService {
	s := NewRetentionService(DefaultRetentionPolicies(), zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestDefaultRetentionPolicies(t *testing.T) {
	s := NewRetentionService(DefaultRetentionPolicies(), zerolog.Nop())
	for _, rt := range []string{"claim", "billing_record", "payment", "audit_log", "client_record", "temporary_data"} {
		if s.Policy(rt) == nil {
			t.Errorf("missing policy for %s", rt)
		}
	}
	audit := s.Policy("audit_log")
	if audit.PurgeAfterDays != AuditLogPurgeDays || audit.RetentionDays < 2190 {
		t.Errorf("audit log policy must keep 6 years and purge after 7: %+v", audit)
	}
	for _, p := range s.Policies() {
		if p.Description == "" {
			t.Errorf("%s has no description", p.RecordType)
		}
	}
}

func TestRetentionService_Policies_Sorted(t *testing.T) {
	ps := NewRetentionService(DefaultRetentionPolicies(), zerolog.Nop()).Policies()
	for i := 1; i < len(ps); i++ {
		if ps[i-1].RecordType > ps[i].RecordType {
			t.Fatalf("policies not sorted: %s before %s", ps[i-1].RecordType, ps[i].RecordType)
		}
	}
}

func TestRetentionService_Evaluate(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := newTestRetention(now)
	daysAgo := func(d int) time.Time { return now.AddDate(0, 0, -d) }

	tests := []struct {
		name       string
		recordType string
		created    time.Time
		want       string
		known      bool
	}{
		{"fresh audit log", "audit_log", daysAgo(10), RetentionStateActive, true},
		{"archivable audit log", "audit_log", daysAgo(1200), RetentionStateArchiveEligible, true},
		{"purgeable audit log", "audit_log", daysAgo(2600), RetentionStatePurgeEligible, true},
		{"client record never purged", "client_record", daysAgo(9000), RetentionStateArchiveEligible, true},
		{"temporary data purged", "temporary_data", daysAgo(91), RetentionStatePurgeEligible, true},
		{"unknown type", "widget", daysAgo(9000), RetentionStateActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := s.Evaluate(tt.recordType, tt.created)
			if st.State != tt.want || st.Known != tt.known {
				t.Errorf("got %s (known=%v), want %s (known=%v)", st.State, st.Known, tt.want, tt.known)
			}
		})
	}
}

func TestRetentionService_Evaluate_NextChange(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := newTestRetention(now)
	created := now.AddDate(0, 0, -10)

	st := s.Evaluate("audit_log", created)
	if want := created.AddDate(0, 0, 1095); !st.NextChange.Equal(want) {
		t.Errorf("active record changes at archive date: got %v want %v", st.NextChange, want)
	}

	created = now.AddDate(0, 0, -1200)
	st = s.Evaluate("audit_log", created)
	if want := created.AddDate(0, 0, AuditLogPurgeDays); !st.NextChange.Equal(want) {
		t.Errorf("archivable record changes at purge date: got %v want %v", st.NextChange, want)
	}
}
