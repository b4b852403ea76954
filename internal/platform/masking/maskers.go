package masking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ssnFormat        = regexp.MustCompile(`^(\d{3})-?(\d{2})-?(\d{4})$`)
	cardFormat       = regexp.MustCompile(`^\d{13,19}$`)
	cardSeparators   = regexp.MustCompile(`[\s-]`)
	isoDateFormat    = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	usDateFormat     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	emailFormat      = regexp.MustCompile(`^([^@\s]+)@([^@\s]+\.[^@\s]+)$`)
	phoneFormat      = regexp.MustCompile(`^(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}$`)
	nonDigits        = regexp.MustCompile(`\D`)
	addressFormat    = regexp.MustCompile(`^(.+?),\s*([^,]+),\s*([A-Za-z]{2})\s+(\d{5})(?:-\d{4})?$`)
	identifierFormat = regexp.MustCompile(`^[A-Za-z0-9-]{5,}$`)
)

// MaskSSN reveals the last four digits of a social security number.
// "123-45-6789" becomes "XXX-XX-6789".
func MaskSSN(ssn string) string {
	m := ssnFormat.FindStringSubmatch(strings.TrimSpace(ssn))
	if m == nil {
		return ssn
	}
	return "XXX-XX-" + m[3]
}

// MaskCreditCard reveals the last four digits of a card number.
func MaskCreditCard(card string) string {
	digits := cardSeparators.ReplaceAllString(strings.TrimSpace(card), "")
	if !cardFormat.MatchString(digits) {
		return card
	}
	return "XXXX-XXXX-XXXX-" + digits[len(digits)-4:]
}

// MaskDateOfBirth keeps only the year. Both ISO (1985-03-15) and US
// (03/15/1985) layouts are recognized.
func MaskDateOfBirth(dob string) string {
	s := strings.TrimSpace(dob)
	if m := isoDateFormat.FindStringSubmatch(s); m != nil {
		return m[1] + "-XX-XX"
	}
	if m := usDateFormat.FindStringSubmatch(s); m != nil {
		return "XX/XX/" + m[3]
	}
	return dob
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	m := emailFormat.FindStringSubmatch(strings.TrimSpace(email))
	if m == nil {
		return email
	}
	_, n := utf8.DecodeRuneInString(m[1])
	return m[1][:n] + "***@" + m[2]
}

// MaskPhone reveals the last four digits of a North American phone number.
func MaskPhone(phone string) string {
	s := strings.TrimSpace(phone)
	if !phoneFormat.MatchString(s) {
		return phone
	}
	digits := nonDigits.ReplaceAllString(s, "")
	return "XXX-XXX-" + digits[len(digits)-4:]
}

// MaskAddress hides the street and the last two ZIP digits, keeping city,
// state and the three-digit ZIP prefix:
// "12 Main St, Springfield, IL 62704" becomes "XXXX, Springfield, IL 627XX".
func MaskAddress(address string) string {
	m := addressFormat.FindStringSubmatch(strings.TrimSpace(address))
	if m == nil {
		return address
	}
	return "XXXX, " + strings.TrimSpace(m[2]) + ", " + strings.ToUpper(m[3]) + " " + m[4][:3] + "XX"
}

// MaskIdentifier masks all but the last visible characters of an account or
// member identifier. Values shorter than five characters are left alone.
func MaskIdentifier(id string, visible int) string {
	s := strings.TrimSpace(id)
	if !identifierFormat.MatchString(s) {
		return id
	}
	if visible <= 0 {
		visible = 4
	}
	if visible >= len(s) {
		return id
	}
	return strings.Repeat("X", len(s)-visible) + s[len(s)-visible:]
}

// fieldKind classifies a field name for specialized masking.
type fieldKind int

const (
	kindNone fieldKind = iota
	kindSSN
	kindCreditCard
	kindDOB
	kindEmail
	kindPhone
	kindAddress
)

// normalizeFieldName lowercases a field name and strips separators so that
// "date_of_birth", "dateOfBirth" and "Date-Of-Birth" compare equal.
func normalizeFieldName(name string) string {
	r := strings.NewReplacer("_", "", "-", "", " ", "", ".", "")
	return r.Replace(strings.ToLower(name))
}

func kindForField(name string) fieldKind {
	n := normalizeFieldName(name)
	switch {
	case strings.Contains(n, "ssn") || strings.Contains(n, "socialsecurity"):
		return kindSSN
	case strings.Contains(n, "creditcard") || strings.Contains(n, "cardnumber"):
		return kindCreditCard
	case strings.HasSuffix(n, "dob") || strings.Contains(n, "dateofbirth") || strings.Contains(n, "birthdate"):
		return kindDOB
	case strings.Contains(n, "email"):
		return kindEmail
	case strings.Contains(n, "phone") || strings.Contains(n, "mobile") || strings.Contains(n, "fax"):
		return kindPhone
	case strings.Contains(n, "address"):
		return kindAddress
	}
	return kindNone
}

func maskByKind(kind fieldKind, value string) string {
	switch kind {
	case kindSSN:
		return MaskSSN(value)
	case kindCreditCard:
		return MaskCreditCard(value)
	case kindDOB:
		return MaskDateOfBirth(value)
	case kindEmail:
		return MaskEmail(value)
	case kindPhone:
		return MaskPhone(value)
	case kindAddress:
		return MaskAddress(value)
	}
	return value
}
