package masking

import "regexp"

// Rule pairs a pattern with the fixed text that replaces every match.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// RuleSet is a versioned table of masking rules. Rules are applied in order,
// but each one only rewrites the text it matches.
type RuleSet struct {
	Version string
	Rules   []Rule
}

// DefaultRuleSetVersion identifies the built-in rule table.
const DefaultRuleSetVersion = "2024.1"

// DefaultRuleSet returns the built-in PII/PHI rule table. A new slice is
// returned on every call so callers can extend it without affecting others.
func DefaultRuleSet() RuleSet {
	defs := []struct {
		name        string
		pattern     string
		replacement string
	}{
		{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, "XXX-XX-XXXX"},
		{"credit_card", `\b(?:\d{4}[-\s]?){3}\d{4}\b`, "XXXX-XXXX-XXXX-XXXX"},
		{"date_of_birth", `(?i)\b(?:dob|date\s+of\s+birth|birth\s*date)[:\s]+\d{1,4}[-/]\d{1,2}[-/]\d{1,4}\b`, "DOB: XX/XX/XXXX"},
		{"email", `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "[EMAIL REDACTED]"},
		{"phone", `(?:\(\d{3}\)\s*|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`, "XXX-XXX-XXXX"},
		{"address", `\b\d{1,6}\s+(?:[A-Za-z0-9]+\s+){1,4}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl)\b\.?`, "[ADDRESS REDACTED]"},
		{"ip_address", `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "[IP REDACTED]"},
		{"bearer_token", `(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer [TOKEN REDACTED]"},
		{"medicaid_id", `(?i)\b(medicaid\s*(?:id|#|number|no\.?)?[:\s#]*)[A-Za-z0-9]{6,14}\b`, "${1}[REDACTED]"},
		{"medicare_id", `(?i)\b(medicare\s*(?:id|#|number|no\.?)?[:\s#]*)[A-Za-z0-9\-]{6,14}\b`, "${1}[REDACTED]"},
		{"diagnosis", `(?i)\b(diagnosis[:\s]+)[^,;\n]+`, "${1}[REDACTED]"},
		{"treatment", `(?i)\b(treatment[:\s]+)[^,;\n]+`, "${1}[REDACTED]"},
		{"condition", `(?i)\b(condition[:\s]+)[^,;\n]+`, "${1}[REDACTED]"},
	}

	rules := make([]Rule, 0, len(defs))
	for _, d := range defs {
		rules = append(rules, Rule{
			Name:        d.name,
			Pattern:     regexp.MustCompile(d.pattern),
			Replacement: d.replacement,
		})
	}
	return RuleSet{Version: DefaultRuleSetVersion, Rules: rules}
}
