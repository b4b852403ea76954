package hipaa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/platform/audit"
	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/authz"
	"github.com/rcm/rcm/internal/platform/masking"
	"github.com/rcm/rcm/internal/platform/rbac"
)

// ComplianceManager applies encryption, masking, minimum-necessary filtering
// and audit logging to PHI-bearing records.
type ComplianceManager struct {
	keys      *KeyRing
	authz     *authz.Manager
	audit     *audit.Logger
	auditRepo audit.Repository
	masker    *masking.Engine
	retention *RetentionService
	logger    zerolog.Logger
	now       func() time.Time
}

// ComplianceDeps are the collaborators of a ComplianceManager. Masker and
// Retention default when nil.
type ComplianceDeps struct {
	Keys      *KeyRing
	Authz     *authz.Manager
	Audit     *audit.Logger
	AuditRepo audit.Repository
	Masker    *masking.Engine
	Retention *RetentionService
}

func NewComplianceManager(deps ComplianceDeps, logger zerolog.Logger) *ComplianceManager {
	logger = logger.With().Str("component", "hipaa").Logger()
	if deps.Masker == nil {
		deps.Masker = masking.NewEngine(masking.DefaultRuleSet())
	}
	if deps.Retention == nil {
		deps.Retention = NewRetentionService(DefaultRetentionPolicies(), logger)
	}
	return &ComplianceManager{
		keys:      deps.Keys,
		authz:     deps.Authz,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		masker:    deps.Masker,
		retention: deps.Retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PHIFields returns the PHI field names.
func (m *ComplianceManager) PHIFields() []string { return PHIFields() }

// PIIFields returns the PII field names.
func (m *ComplianceManager) PIIFields() []string { return PIIFields() }

// ProtectPHI encrypts the PHI fields of data plus any extra fields.
func (m *ComplianceManager) ProtectPHI(_ context.Context, data map[string]any, extra ...string) (map[string]any, error) {
	out, err := m.keys.EncryptObject(data, withExtra(phiFields, extra))
	if err != nil {
		m.logCryptoError("protect_phi", err)
		return nil, err
	}
	return out, nil
}

// RevealPHI decrypts the PHI fields of data for a user holding PHI:VIEW and
// records the access. Without the permission nothing is decrypted and the
// denial is audited.
func (m *ComplianceManager) RevealPHI(ctx context.Context, user *auth.User, data map[string]any, extra ...string) (map[string]any, error) {
	resourceID, _ := data["id"].(string)

	if err := m.authz.EnforcePermissionForAction(ctx, user, rbac.CategoryPHI, rbac.ActionView, ""); err != nil {
		m.audit.LogSecurityEvent(ctx, user, audit.EventAccessDenied,
			"PHI reveal denied: missing "+rbac.BuildPermissionName(rbac.CategoryPHI, rbac.ActionView, ""),
			audit.WithMetadata(map[string]any{"resource_id": resourceID}))
		return nil, err
	}

	fields := withExtra(phiFields, extra)
	out, err := m.keys.DecryptObject(data, fields)
	if err != nil {
		m.logCryptoError("reveal_phi", err)
		return nil, err
	}

	m.audit.LogDataAccess(ctx, user, audit.EventPHIAccess, "phi", resourceID,
		audit.WithMetadata(map[string]any{"fields": revealed(data, fields)}))
	return out, nil
}

// revealed lists the fields of data that held ciphertext.
func revealed(data map[string]any, fields []string) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		if _, ok := AsEncryptedField(data[f]); ok {
			out = append(out, f)
		}
	}
	return out
}

// MaskPHI masks data for user's role. A nil user gets full masking.
func (m *ComplianceManager) MaskPHI(user *auth.User, data map[string]any) map[string]any {
	if user == nil {
		return m.masker.ApplyRoleBasedMasking(data, "", nil, masking.Options{})
	}
	return m.masker.ApplyRoleBasedMasking(data, user.ID, []string{user.Role}, masking.Options{})
}

// EnforceMinimumNecessary keeps only the allowed top-level fields of data.
// A user without DATA:MINIMUM_NECESSARY gets an empty map, not an error.
func (m *ComplianceManager) EnforceMinimumNecessary(ctx context.Context, user *auth.User, data map[string]any, allowed []string) map[string]any {
	out := make(map[string]any, len(allowed))
	if !m.authz.HasPermissionForAction(ctx, user, rbac.CategoryData, rbac.ActionMinimumNecessary, "") {
		uid := ""
		if user != nil {
			uid = user.ID
		}
		m.logger.Warn().Str("user_id", uid).Msg("minimum necessary check failed; returning empty result")
		return out
	}
	for _, f := range allowed {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

// ComplianceReport summarises audit activity over a period.
type ComplianceReport struct {
	From              time.Time         `json:"from"`
	To                time.Time         `json:"to"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Summary           *audit.Summary    `json:"summary"`
	PHIAccesses       int               `json:"phi_accesses"`
	AccessDenials     int               `json:"access_denials"`
	FailedLogins      int               `json:"failed_logins"`
	PermissionChanges int               `json:"permission_changes"`
	KeyRotations      int               `json:"key_rotations"`
	KeyVersion        int               `json:"key_version"`
	MaskingRules      string            `json:"masking_rules_version"`
	RetentionPolicies []RetentionPolicy `json:"retention_policies"`
}

// GenerateComplianceReport summarises audit entries between from and to.
func (m *ComplianceManager) GenerateComplianceReport(ctx context.Context, from, to time.Time) (*ComplianceReport, error) {
	if to.Before(from) {
		return nil, errors.New("hipaa: report period ends before it starts")
	}
	s, err := m.auditRepo.Summarize(ctx, audit.Filter{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("hipaa: summarize audit log: %w", err)
	}

	r := &ComplianceReport{
		From:              from,
		To:                to,
		GeneratedAt:       m.now(),
		Summary:           s,
		PHIAccesses:       s.ByEventType[string(audit.EventPHIAccess)],
		AccessDenials:     s.ByEventType[string(audit.EventAccessDenied)],
		FailedLogins:      s.ByEventType[string(audit.EventFailedLogin)],
		PermissionChanges: s.ByEventType[string(audit.EventPermissionChange)],
		KeyRotations:      s.ByEventType[string(audit.EventKeyRotated)],
		MaskingRules:      m.masker.RuleSetVersion(),
		RetentionPolicies: m.retention.Policies(),
	}
	if m.keys != nil {
		r.KeyVersion = m.keys.CurrentVersion()
	}
	return r, nil
}

// RetentionPolicies returns the configured retention policies.
func (m *ComplianceManager) RetentionPolicies() []RetentionPolicy {
	return m.retention.Policies()
}

// EvaluateRetention reports the retention state of one record.
func (m *ComplianceManager) EvaluateRetention(recordType string, createdAt time.Time) RetentionStatus {
	return m.retention.Evaluate(recordType, createdAt)
}

func (m *ComplianceManager) logCryptoError(op string, err error) {
	m.logger.Error().Err(err).Str("op", op).Msg("PHI cryptographic operation failed")
}
