// Package validation содержит функции проверки и нормализации входных данных.
package validation

import (
	"strings"
	"unicode"
)

const countryCode = "84"

// NormalizePhone приводит телефонный номер к виду +84XXXXXXXXX.
// Допускаются пробелы, дефисы и скобки; ведущий 0 заменяется кодом страны.
// Второе значение false, если номер нельзя привести к каноническому виду.
func NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	plus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, ch := range raw {
		switch {
		case unicode.IsDigit(ch) && ch < unicode.MaxASCII:
			b.WriteRune(ch)
		case ch == '+' || ch == ' ' || ch == '-' || ch == '.' || ch == '(' || ch == ')':
		default:
			return "", false
		}
	}
	digits := b.String()

	var national string
	switch {
	case plus:
		if !strings.HasPrefix(digits, countryCode) {
			return "", false
		}
		national = digits[len(countryCode):]
	case strings.HasPrefix(digits, "0"):
		national = digits[1:]
	case strings.HasPrefix(digits, countryCode) && len(digits) >= 11:
		national = digits[len(countryCode):]
	default:
		national = digits
	}

	if len(national) < 8 || len(national) > 10 || national[0] == '0' {
		return "", false
	}

	return "+" + countryCode + national, true
}
