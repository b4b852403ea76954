package hipaa

// phiFields are encrypted at rest and masked for lower-trust callers.
var phiFields = []string{
	"ssn",
	"dateOfBirth",
	"diagnosis",
	"diagnosisCodes",
	"treatment",
	"condition",
	"medications",
	"medicalRecordNumber",
	"medicaidId",
	"medicareId",
	"insuranceMemberId",
	"healthPlanId",
	"clinicalNotes",
}

// piiFields identify a person but are not health information.
var piiFields = []string{
	"firstName",
	"lastName",
	"email",
	"phone",
	"address",
	"city",
	"zipCode",
	"driversLicense",
	"bankAccountNumber",
	"creditCardNumber",
	"ipAddress",
}

// PHIFields returns the protected health information field names.
func PHIFields() []string {
	return append([]string(nil), phiFields...)
}

// PIIFields returns the personally identifiable information field names.
func PIIFields() []string {
	return append([]string(nil), piiFields...)
}

// withExtra returns base followed by any extra names not already present.
func withExtra(base []string, extra []string) []string {
	out := append([]string(nil), base...)
	seen := make(map[string]bool, len(base)+len(extra))
	for _, f := range base {
		seen[f] = true
	}
	for _, f := range extra {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
