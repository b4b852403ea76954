// Package masking redacts PII and PHI from strings and nested data before it
// is logged, audited or shown to a lower-trust caller. Maskers never fail: a
// value whose format is not recognized is returned unchanged.
package masking

import (
	"strings"
	"unicode/utf8"

	"github.com/rcm/rcm/internal/platform/rbac"
)

// Level selects how much of a value is hidden.
type Level string

const (
	LevelNone    Level = "none"
	LevelPartial Level = "partial"
	LevelFull    Level = "full"
)

// RedactedMarker replaces whole values under LevelFull.
const RedactedMarker = "[REDACTED]"

// Options tune a masking call. The zero value masks partially.
type Options struct {
	Level Level
	// MaskChar is repeated when PreserveLength is set. Defaults to '*'.
	MaskChar       rune
	PreserveLength bool
}

func (o Options) level() Level {
	if o.Level == "" {
		return LevelPartial
	}
	return o.Level
}

func (o Options) maskChar() string {
	if o.MaskChar == 0 {
		return "*"
	}
	return string(o.MaskChar)
}

// partialFields are the normalized field names masked under LevelPartial by
// role-based masking.
var partialFields = map[string]bool{
	"ssn":                  true,
	"socialsecuritynumber": true,
	"creditcard":           true,
	"creditcardnumber":     true,
	"cardnumber":           true,
	"dob":                  true,
	"dateofbirth":          true,
	"birthdate":            true,
	"email":                true,
	"emailaddress":         true,
	"phone":                true,
	"phonenumber":          true,
	"mobile":               true,
	"address":              true,
	"streetaddress":        true,
	"medicaidid":           true,
	"medicareid":           true,
	"memberid":             true,
	"accountnumber":        true,
	"policynumber":         true,
}

// ownerKeys identify the record owner for the self-access relaxation.
var ownerKeys = []string{"userId", "createdBy", "ownerId", "user_id", "created_by", "owner_id"}

// Engine applies a rule set plus the specialized maskers. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	rules RuleSet
}

// NewEngine returns an engine using rules for free-text redaction.
func NewEngine(rules RuleSet) *Engine {
	return &Engine{rules: rules}
}

// RuleSetVersion reports the version of the injected rule table.
func (e *Engine) RuleSetVersion() string {
	return e.rules.Version
}

// MaskString redacts recognizable values inside s. A string that is exactly
// an SSN, card number, date of birth, email or phone number gets the
// specialized masker; anything else goes through the rule table.
func (e *Engine) MaskString(s string) string {
	for _, fn := range []func(string) string{MaskSSN, MaskCreditCard, MaskDateOfBirth, MaskEmail, MaskPhone} {
		if masked := fn(s); masked != s {
			return masked
		}
	}
	for _, r := range e.rules.Rules {
		s = r.Pattern.ReplaceAllString(s, r.Replacement)
	}
	return s
}

// MaskData returns a masked deep copy of data. Maps and slices are walked
// recursively; field names pick a specialized masker where one applies.
func (e *Engine) MaskData(data any, opts Options) any {
	return e.maskValue("", data, opts)
}

// MaskMap is MaskData for the common map case.
func (e *Engine) MaskMap(data map[string]any, opts Options) map[string]any {
	if data == nil {
		return nil
	}
	return e.maskValue("", data, opts).(map[string]any)
}

func (e *Engine) maskValue(key string, v any, opts Options) any {
	switch val := v.(type) {
	case string:
		return e.maskScalar(key, val, opts)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = e.maskValue(k, child, opts)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, child := range val {
			out[k] = e.maskScalar(k, child, opts)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = e.maskValue(key, child, opts)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, child := range val {
			out[i] = e.maskValue(key, child, opts).(map[string]any)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, child := range val {
			out[i] = e.maskScalar(key, child, opts)
		}
		return out
	}
	return v
}

func (e *Engine) maskScalar(key, s string, opts Options) string {
	switch opts.level() {
	case LevelNone:
		return s
	case LevelFull:
		return redact(s, opts)
	}
	if kind := kindForField(key); kind != kindNone {
		if masked := maskByKind(kind, s); masked != s {
			return masked
		}
	}
	return e.MaskString(s)
}

func redact(s string, opts Options) string {
	if s == "" {
		return s
	}
	if opts.PreserveLength {
		return strings.Repeat(opts.maskChar(), utf8.RuneCountInString(s))
	}
	return RedactedMarker
}

// MaskSensitiveFields masks only the listed fields of a deep copy of data.
// Paths use dot notation ("patient.contact.email"); a path segment that
// lands on a slice is applied to every element.
func (e *Engine) MaskSensitiveFields(data map[string]any, fields []string, opts Options) map[string]any {
	if data == nil {
		return nil
	}
	out := deepCopyMap(data)
	for _, f := range fields {
		if f == "" {
			continue
		}
		e.maskPath(out, strings.Split(f, "."), opts)
	}
	return out
}

func (e *Engine) maskPath(node any, path []string, opts Options) {
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[path[0]]
		if !ok || child == nil {
			return
		}
		if len(path) == 1 {
			n[path[0]] = e.maskLeaf(path[0], child, opts)
			return
		}
		e.maskPath(child, path[1:], opts)
	case []any:
		for _, el := range n {
			e.maskPath(el, path, opts)
		}
	case []map[string]any:
		for _, el := range n {
			e.maskPath(el, path, opts)
		}
	}
}

// maskLeaf masks the value of a targeted field. Under partial masking a
// string whose format the field's specialized masker does not recognize is
// still run through the generic string masker.
func (e *Engine) maskLeaf(key string, v any, opts Options) any {
	s, ok := v.(string)
	if !ok {
		return e.maskValue(key, v, opts)
	}
	switch opts.level() {
	case LevelNone:
		return s
	case LevelFull:
		return redact(s, opts)
	}
	if kind := kindForField(key); kind != kindNone {
		if masked := maskByKind(kind, s); masked != s {
			return masked
		}
	} else if isIdentifierField(key) {
		if masked := MaskIdentifier(s, 4); masked != s {
			return masked
		}
	}
	return e.MaskString(s)
}

func isIdentifierField(key string) bool {
	n := normalizeFieldName(key)
	return strings.HasSuffix(n, "id") || strings.HasSuffix(n, "number")
}

// LevelForRoles maps role names to a masking level: administrators see
// everything, financial managers and billing specialists see partially
// masked data, everyone else sees fully masked data.
func LevelForRoles(roles []string) Level {
	level := LevelFull
	for _, r := range roles {
		switch rbac.RoleName(r) {
		case rbac.RoleAdministrator:
			return LevelNone
		case rbac.RoleFinancialManager, rbac.RoleBillingSpecialist:
			level = LevelPartial
		}
	}
	return level
}

// ApplyRoleBasedMasking masks data for a caller holding roles. When the
// record belongs to userID (userId, createdBy or ownerId) the level is
// capped at partial. The role-derived level replaces opts.Level.
func (e *Engine) ApplyRoleBasedMasking(data map[string]any, userID string, roles []string, opts Options) map[string]any {
	if data == nil {
		return nil
	}

	level := LevelForRoles(roles)
	if level == LevelFull && userID != "" && ownedBy(data, userID) {
		level = LevelPartial
	}
	opts.Level = level

	switch level {
	case LevelNone:
		return deepCopyMap(data)
	case LevelPartial:
		out := deepCopyMap(data)
		e.maskPartialFields(out, opts)
		return out
	default:
		return e.MaskMap(data, opts)
	}
}

func ownedBy(data map[string]any, userID string) bool {
	for _, k := range ownerKeys {
		if v, ok := data[k].(string); ok && v == userID {
			return true
		}
	}
	return false
}

func (e *Engine) maskPartialFields(node any, opts Options) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if v == nil {
				continue
			}
			if partialFields[normalizeFieldName(k)] {
				n[k] = e.maskLeaf(k, v, opts)
				continue
			}
			e.maskPartialFields(v, opts)
		}
	case []any:
		for _, el := range n {
			e.maskPartialFields(el, opts)
		}
	case []map[string]any:
		for _, el := range n {
			e.maskPartialFields(el, opts)
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = deepCopy(el)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, el := range val {
			out[i] = deepCopyMap(el)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}
