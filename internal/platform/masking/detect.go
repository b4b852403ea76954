package masking

import (
	"fmt"
	"sort"
	"strings"
)

// Sensitive data types reported by DetectSensitiveData.
const (
	TypeSSN         = "SSN"
	TypeCreditCard  = "CREDIT_CARD"
	TypeDateOfBirth = "DATE_OF_BIRTH"
	TypeEmail       = "EMAIL"
	TypePhone       = "PHONE"
	TypeAddress     = "ADDRESS"
	TypeCredential  = "CREDENTIAL"
	TypeMedicaidID  = "MEDICAID_ID"
	TypeMedicareID  = "MEDICARE_ID"
	TypeHealthInfo  = "HEALTH_INFO"
	TypeIPAddress   = "IP_ADDRESS"
)

// Report lists the fields that look sensitive. DetectedFields are dotted
// paths, with slice elements written as items[0].
type Report struct {
	HasSensitiveData bool              `json:"has_sensitive_data"`
	DetectedFields   []string          `json:"detected_fields"`
	Types            map[string]string `json:"types"`
}

var nameTokens = []struct {
	token string
	typ   string
}{
	{"ssn", TypeSSN},
	{"socialsecurity", TypeSSN},
	{"creditcard", TypeCreditCard},
	{"cardnumber", TypeCreditCard},
	{"dateofbirth", TypeDateOfBirth},
	{"birthdate", TypeDateOfBirth},
	{"email", TypeEmail},
	{"phone", TypePhone},
	{"mobile", TypePhone},
	{"fax", TypePhone},
	{"address", TypeAddress},
	{"password", TypeCredential},
	{"secret", TypeCredential},
	{"apikey", TypeCredential},
	{"accesstoken", TypeCredential},
	{"medicaid", TypeMedicaidID},
	{"medicare", TypeMedicareID},
	{"diagnosis", TypeHealthInfo},
	{"treatment", TypeHealthInfo},
	{"condition", TypeHealthInfo},
	{"icd10", TypeHealthInfo},
}

// ruleTypes maps rule names of the default table to report types.
var ruleTypes = map[string]string{
	"ssn":           TypeSSN,
	"credit_card":   TypeCreditCard,
	"date_of_birth": TypeDateOfBirth,
	"email":         TypeEmail,
	"phone":         TypePhone,
	"address":       TypeAddress,
	"ip_address":    TypeIPAddress,
	"bearer_token":  TypeCredential,
	"medicaid_id":   TypeMedicaidID,
	"medicare_id":   TypeMedicareID,
	"diagnosis":     TypeHealthInfo,
	"treatment":     TypeHealthInfo,
	"condition":     TypeHealthInfo,
}

func typeForName(name string) string {
	n := normalizeFieldName(name)
	if strings.HasSuffix(n, "dob") {
		return TypeDateOfBirth
	}
	for _, t := range nameTokens {
		if strings.Contains(n, t.token) {
			return t.typ
		}
	}
	return ""
}

func (e *Engine) typeForValue(s string) string {
	switch {
	case MaskSSN(s) != s:
		return TypeSSN
	case MaskCreditCard(s) != s:
		return TypeCreditCard
	case MaskEmail(s) != s:
		return TypeEmail
	case MaskPhone(s) != s:
		return TypePhone
	}
	for _, r := range e.rules.Rules {
		if r.Pattern.MatchString(s) {
			if t, ok := ruleTypes[r.Name]; ok {
				return t
			}
			return strings.ToUpper(r.Name)
		}
	}
	return ""
}

// DetectSensitiveData scans data without modifying it and reports fields
// whose name or value looks like PII or PHI. A sensitive top-level string is
// reported under the empty path.
func (e *Engine) DetectSensitiveData(data any) Report {
	rep := Report{DetectedFields: []string{}, Types: map[string]string{}}
	e.detect("", "", data, &rep)
	sort.Strings(rep.DetectedFields)
	rep.HasSensitiveData = len(rep.DetectedFields) > 0
	return rep
}

func (e *Engine) detect(path, key string, v any, rep *Report) {
	if v == nil {
		return
	}
	if key != "" {
		if t := typeForName(key); t != "" {
			rep.add(path, t)
			return
		}
	}

	switch val := v.(type) {
	case string:
		if t := e.typeForValue(val); t != "" {
			rep.add(path, t)
		}
	case map[string]any:
		for k, child := range val {
			e.detect(join(path, k), k, child, rep)
		}
	case map[string]string:
		for k, child := range val {
			e.detect(join(path, k), k, child, rep)
		}
	case []any:
		for i, child := range val {
			e.detect(fmt.Sprintf("%s[%d]", path, i), "", child, rep)
		}
	case []map[string]any:
		for i, child := range val {
			e.detect(fmt.Sprintf("%s[%d]", path, i), "", child, rep)
		}
	case []string:
		for i, child := range val {
			e.detect(fmt.Sprintf("%s[%d]", path, i), "", child, rep)
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func (r *Report) add(path, typ string) {
	if _, seen := r.Types[path]; seen {
		return
	}
	r.DetectedFields = append(r.DetectedFields, path)
	r.Types[path] = typ
}
