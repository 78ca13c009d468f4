package session

import "strings"

// MaskPhone redacts the middle of a phone number for observer payloads,
// keeping the leading country-code digits and the last two. Inputs that are
// too short to mask meaningfully are returned blanked rather than leaked.
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 6 {
		return "***"
	}
	var b strings.Builder
	if strings.HasPrefix(phone, "+") {
		b.WriteByte('+')
	}
	b.WriteString(digits[:3])
	b.WriteString(strings.Repeat("*", len(digits)-5))
	b.WriteString(digits[len(digits)-2:])
	return b.String()
}
