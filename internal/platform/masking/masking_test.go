package masking

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSpecializedMaskers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"ssn dashed", MaskSSN, "123-45-6789", "XXX-XX-6789"},
		{"ssn bare", MaskSSN, "123456789", "XXX-XX-6789"},
		{"ssn already masked", MaskSSN, "XXX-XX-6789", "XXX-XX-6789"},
		{"ssn malformed", MaskSSN, "12-345-678", "12-345-678"},
		{"card", MaskCreditCard, "4111111111111111", "XXXX-XXXX-XXXX-1111"},
		{"card spaced", MaskCreditCard, "4111 1111 1111 1111", "XXXX-XXXX-XXXX-1111"},
		{"card too short", MaskCreditCard, "4111", "4111"},
		{"dob iso", MaskDateOfBirth, "1985-03-15", "1985-XX-XX"},
		{"dob us", MaskDateOfBirth, "03/15/1985", "XX/XX/1985"},
		{"dob garbage", MaskDateOfBirth, "March 15th", "March 15th"},
		{"email", MaskEmail, "jane.doe@example.com", "j***@example.com"},
		{"email invalid", MaskEmail, "not-an-email", "not-an-email"},
		{"phone", MaskPhone, "(555) 123-4567", "XXX-XXX-4567"},
		{"phone dotted", MaskPhone, "555.123.4567", "XXX-XXX-4567"},
		{"phone short", MaskPhone, "12345", "12345"},
		{"address", MaskAddress, "12 Main St, Springfield, IL 62704", "XXXX, Springfield, IL 627XX"},
		{"address freeform", MaskAddress, "somewhere", "somewhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaskEmail_KeepsFirstCharAndDomain(t *testing.T) {
	got := MaskEmail("jane.doe@example.com")
	if !strings.HasPrefix(got, "j") || !strings.HasSuffix(got, "@example.com") {
		t.Errorf("unexpected mask %q", got)
	}
	if strings.Contains(got, "jane.doe") {
		t.Errorf("local part leaked: %q", got)
	}
}

func TestMaskEmail_MultiByteFirstChar(t *testing.T) {
	got := MaskEmail("épée@example.com")
	if got != "é***@example.com" {
		t.Errorf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("mask must stay valid UTF-8: %q", got)
	}
}

func TestMaskIdentifier(t *testing.T) {
	if got := MaskIdentifier("MCD123456789", 4); got != "XXXXXXXX6789" {
		t.Errorf("got %q", got)
	}
	if got := MaskIdentifier("abc", 4); got != "abc" {
		t.Errorf("short ids are left alone, got %q", got)
	}
}

func TestMaskSSN_Idempotent(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	once := e.MaskString("123-45-6789")
	twice := e.MaskString(once)
	if once != "XXX-XX-6789" || twice != once {
		t.Errorf("re-masking changed value: %q -> %q", once, twice)
	}
}

func TestMaskString_FreeText(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	in := "Patient SSN 123-45-6789, reach at jane@example.com or 555-123-4567. Diagnosis: type 2 diabetes"
	got := e.MaskString(in)

	for _, leak := range []string{"123-45-6789", "jane@example.com", "555-123-4567", "diabetes"} {
		if strings.Contains(got, leak) {
			t.Errorf("%q leaked in %q", leak, got)
		}
	}
	if !strings.Contains(got, "Diagnosis: [REDACTED]") {
		t.Errorf("expected labelled diagnosis redaction, got %q", got)
	}
}

func TestMaskString_CustomRuleSet(t *testing.T) {
	rs := DefaultRuleSet()
	rs.Version = "test"
	rs.Rules = rs.Rules[:0]
	e := NewEngine(rs)

	if got := e.MaskString("call 555-123-4567 now"); got != "call 555-123-4567 now" {
		t.Errorf("empty rule set must not rewrite free text, got %q", got)
	}
	if e.RuleSetVersion() != "test" {
		t.Errorf("version = %q", e.RuleSetVersion())
	}
}

func TestMaskData_Partial(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	in := map[string]any{
		"name":        "Jane",
		"ssn":         "123-45-6789",
		"contactInfo": map[string]any{"email": "jane@example.com", "phone": "555-123-4567"},
		"dob":         "1985-03-15",
		"notes":       []any{"card 4111-1111-1111-1111 on file"},
		"visits":      3,
	}

	out := e.MaskData(in, Options{}).(map[string]any)

	if out["ssn"] != "XXX-XX-6789" {
		t.Errorf("ssn = %v", out["ssn"])
	}
	contact := out["contactInfo"].(map[string]any)
	if contact["email"] != "j***@example.com" || contact["phone"] != "XXX-XXX-4567" {
		t.Errorf("contact = %v", contact)
	}
	if out["dob"] != "1985-XX-XX" {
		t.Errorf("dob = %v", out["dob"])
	}
	if note := out["notes"].([]any)[0].(string); strings.Contains(note, "4111-1111-1111-1111") {
		t.Errorf("card leaked in note %q", note)
	}
	if out["visits"] != 3 || out["name"] != "Jane" {
		t.Errorf("non-sensitive values changed: %v", out)
	}
	if in["ssn"] != "123-45-6789" {
		t.Error("input was mutated")
	}
	if in["contactInfo"].(map[string]any)["email"] != "jane@example.com" {
		t.Error("nested input was mutated")
	}
}

func TestMaskData_FieldNameSelectsMasker(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	out := e.MaskData(map[string]any{"homeAddress": "12 Main St, Springfield, IL 62704"}, Options{}).(map[string]any)
	if out["homeAddress"] != "XXXX, Springfield, IL 627XX" {
		t.Errorf("homeAddress = %v", out["homeAddress"])
	}
}

func TestMaskData_Full(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	in := map[string]any{"name": "Jane", "ssn": "123-45-6789", "count": 2}

	out := e.MaskData(in, Options{Level: LevelFull}).(map[string]any)
	if out["name"] != RedactedMarker || out["ssn"] != RedactedMarker {
		t.Errorf("full masking = %v", out)
	}
	if out["count"] != 2 {
		t.Errorf("numbers are kept, got %v", out["count"])
	}

	out = e.MaskData(in, Options{Level: LevelFull, PreserveLength: true, MaskChar: '#'}).(map[string]any)
	if out["name"] != "####" {
		t.Errorf("preserve length = %v", out["name"])
	}
}

func TestMaskData_None(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	out := e.MaskData(map[string]any{"ssn": "123-45-6789"}, Options{Level: LevelNone}).(map[string]any)
	if out["ssn"] != "123-45-6789" {
		t.Errorf("LevelNone changed value: %v", out["ssn"])
	}
}

func TestMaskData_NeverPanics(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	inputs := []any{nil, 42, "", []any{nil, map[string]any{"x": nil}}, map[string]any{"": ""}, struct{}{}}
	for _, in := range inputs {
		e.MaskData(in, Options{})
		e.MaskData(in, Options{Level: LevelFull})
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	in := map[string]any{
		"claimId": "CLM-1",
		"patient": map[string]any{
			"ssn":   "123-45-6789",
			"email": "jane@example.com",
			"memo":  "123-45-6789",
		},
		"contacts": []any{
			map[string]any{"phone": "555-123-4567"},
			map[string]any{"phone": "555-987-6543"},
		},
	}

	out := e.MaskSensitiveFields(in, []string{"patient.ssn", "patient.email", "contacts.phone", "missing.path"}, Options{})

	patient := out["patient"].(map[string]any)
	if patient["ssn"] != "XXX-XX-6789" || patient["email"] != "j***@example.com" {
		t.Errorf("patient = %v", patient)
	}
	if patient["memo"] != "123-45-6789" {
		t.Error("untargeted field must not be masked")
	}
	contacts := out["contacts"].([]any)
	if contacts[0].(map[string]any)["phone"] != "XXX-XXX-4567" || contacts[1].(map[string]any)["phone"] != "XXX-XXX-6543" {
		t.Errorf("contacts = %v", contacts)
	}
	if in["patient"].(map[string]any)["ssn"] != "123-45-6789" {
		t.Error("input was mutated")
	}
}

func TestApplyRoleBasedMasking(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	record := map[string]any{
		"ownerId": "u-1",
		"name":    "Jane Doe",
		"ssn":     "123-45-6789",
		"email":   "jane@example.com",
	}

	t.Run("administrator sees everything", func(t *testing.T) {
		out := e.ApplyRoleBasedMasking(record, "admin", []string{"administrator"}, Options{})
		if out["ssn"] != "123-45-6789" || out["name"] != "Jane Doe" {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("billing specialist gets partial", func(t *testing.T) {
		out := e.ApplyRoleBasedMasking(record, "u-9", []string{"billing_specialist"}, Options{})
		if out["ssn"] != "XXX-XX-6789" || out["email"] != "j***@example.com" {
			t.Errorf("out = %v", out)
		}
		if out["name"] != "Jane Doe" {
			t.Errorf("partial masking is limited to the field list, got name %v", out["name"])
		}
	})

	t.Run("read only gets full", func(t *testing.T) {
		out := e.ApplyRoleBasedMasking(record, "u-9", []string{"read_only"}, Options{})
		if out["ssn"] != RedactedMarker || out["name"] != RedactedMarker {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("owner is capped at partial", func(t *testing.T) {
		out := e.ApplyRoleBasedMasking(record, "u-1", []string{"read_only"}, Options{})
		if out["ssn"] != "XXX-XX-6789" || out["name"] != "Jane Doe" {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("no roles gets full", func(t *testing.T) {
		out := e.ApplyRoleBasedMasking(record, "", nil, Options{})
		if out["email"] != RedactedMarker {
			t.Errorf("out = %v", out)
		}
	})

	if record["ssn"] != "123-45-6789" {
		t.Error("input was mutated")
	}
}

func TestLevelForRoles(t *testing.T) {
	tests := []struct {
		roles []string
		want  Level
	}{
		{[]string{"administrator"}, LevelNone},
		{[]string{"read_only", "administrator"}, LevelNone},
		{[]string{"financial_manager"}, LevelPartial},
		{[]string{"billing_specialist"}, LevelPartial},
		{[]string{"program_manager"}, LevelFull},
		{nil, LevelFull},
	}
	for _, tt := range tests {
		if got := LevelForRoles(tt.roles); got != tt.want {
			t.Errorf("LevelForRoles(%v) = %s, want %s", tt.roles, got, tt.want)
		}
	}
}

func TestDetectSensitiveData(t *testing.T) {
	e := NewEngine(DefaultRuleSet())

	rep := e.DetectSensitiveData(map[string]any{"ssn": "123-45-6789", "note": "hello"})
	if !rep.HasSensitiveData {
		t.Fatal("expected sensitive data")
	}
	if len(rep.DetectedFields) != 1 || rep.DetectedFields[0] != "ssn" {
		t.Errorf("fields = %v", rep.DetectedFields)
	}
	if rep.Types["ssn"] != TypeSSN {
		t.Errorf("type = %q", rep.Types["ssn"])
	}
	if _, ok := rep.Types["note"]; ok {
		t.Error("note must not be flagged")
	}
}

func TestDetectSensitiveData_TopLevelString(t *testing.T) {
	e := NewEngine(DefaultRuleSet())

	rep := e.DetectSensitiveData("123-45-6789")
	if !rep.HasSensitiveData {
		t.Fatal("expected a bare SSN to be detected")
	}
	if len(rep.DetectedFields) != 1 || rep.DetectedFields[0] != "" || rep.Types[""] != TypeSSN {
		t.Errorf("unexpected report %+v", rep)
	}

	if rep := e.DetectSensitiveData("hello"); rep.HasSensitiveData {
		t.Errorf("plain text must not be flagged: %+v", rep)
	}
}

func TestDetectSensitiveData_NestedAndValues(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	rep := e.DetectSensitiveData(map[string]any{
		"patient": map[string]any{
			"medicaidId": "ABC123456",
			"password":   "hunter2",
		},
		"items": []any{
			map[string]any{"comment": "contact jane@example.com"},
		},
		"status": "open",
	})

	want := map[string]string{
		"patient.medicaidId": TypeMedicaidID,
		"patient.password":   TypeCredential,
		"items[0].comment":   TypeEmail,
	}
	for path, typ := range want {
		if rep.Types[path] != typ {
			t.Errorf("%s: got %q, want %q", path, rep.Types[path], typ)
		}
	}
	if len(rep.DetectedFields) != len(want) {
		t.Errorf("fields = %v", rep.DetectedFields)
	}
	for i := 1; i < len(rep.DetectedFields); i++ {
		if rep.DetectedFields[i-1] > rep.DetectedFields[i] {
			t.Error("detected fields must be sorted")
		}
	}
}

func TestDetectSensitiveData_Clean(t *testing.T) {
	e := NewEngine(DefaultRuleSet())
	rep := e.DetectSensitiveData(map[string]any{"status": "paid", "amount": 12.5})
	if rep.HasSensitiveData || len(rep.DetectedFields) != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
}
