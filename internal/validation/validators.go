// Package validation implements the input validators and formatters for the
// identifiers the clinic flow consumes: CPF numbers, Brazilian phone numbers,
// dates and appointment times. It also masks sensitive data before logging.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	nonDigits      = regexp.MustCompile(`[^0-9]`)
	cpfFormatted   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`)
	cpfBare        = regexp.MustCompile(`\b\d{11}\b`)
	phoneFormatted = regexp.MustCompile(`\b\d{2}\s\d{4,5}-\d{4}\b`)
	dateBR         = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	timeOfDay      = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// OnlyDigits strips every non-digit rune from s.
func OnlyDigits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// ValidCPF reports whether cpf is a valid Brazilian CPF. Non-digits are
// stripped before validation. The number must be 11 digits, must not be a
// repetition of a single digit, and both modulo-11 check digits must match.
func ValidCPF(cpf string) bool {
	cpf = OnlyDigits(cpf)
	if len(cpf) != 11 {
		return false
	}
	if strings.Count(cpf, string(cpf[0])) == 11 {
		return false
	}

	digit := func(upto int) byte {
		sum := 0
		for i := 0; i < upto; i++ {
			sum += int(cpf[i]-'0') * (upto + 1 - i)
		}
		rest := sum % 11
		if rest < 2 {
			return '0'
		}
		return byte('0' + 11 - rest)
	}

	return cpf[9] == digit(9) && cpf[10] == digit(10)
}

// ExtractCPF finds a valid CPF inside free-form message text, formatted
// (XXX.XXX.XXX-XX) or bare (11 digits). Returns the bare digits.
func ExtractCPF(message string) (string, bool) {
	for _, re := range []*regexp.Regexp{cpfFormatted, cpfBare} {
		if m := re.FindString(message); m != "" {
			clean := OnlyDigits(m)
			if ValidCPF(clean) {
				return clean, true
			}
		}
	}
	return "", false
}

// FormatCPF renders an 11-digit CPF as XXX.XXX.XXX-XX.
func FormatCPF(cpf string) (string, error) {
	clean := OnlyDigits(cpf)
	if len(clean) != 11 {
		return "", fmt.Errorf("cpf must have 11 digits, got %d", len(clean))
	}
	return fmt.Sprintf("%s.%s.%s-%s", clean[:3], clean[3:6], clean[6:9], clean[9:]), nil
}

// ValidPhone reports whether phone is a plausible Brazilian number: 10 or 11
// national digits with a valid area code, optionally preceded by country code 55.
func ValidPhone(phone string) bool {
	clean := OnlyDigits(phone)
	if len(clean) < 10 || len(clean) > 13 {
		return false
	}
	if (len(clean) == 12 || len(clean) == 13) && !strings.HasPrefix(clean, "55") {
		return false
	}
	if strings.HasPrefix(clean, "55") && len(clean) >= 12 {
		clean = clean[2:]
	}
	if len(clean) != 10 && len(clean) != 11 {
		return false
	}
	ddd := int(clean[0]-'0')*10 + int(clean[1]-'0')
	return ddd >= 11 && ddd <= 99
}

// ValidDate parses a DD/MM/YYYY date and accepts it only if it falls between
// today and one year ahead.
func ValidDate(s string) (time.Time, bool) {
	if !dateBR.MatchString(s) {
		return time.Time{}, false
	}
	d, err := time.Parse("02/01/2006", s)
	if err != nil {
		return time.Time{}, false
	}
	y, m, day := time.Now().Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	if d.Before(today) {
		return time.Time{}, false
	}
	if d.After(today.AddDate(1, 0, 0)) {
		return time.Time{}, false
	}
	return d, true
}

// ValidTime accepts HH:MM times inside the clinic's business hours (08-18).
func ValidTime(s string) (string, bool) {
	if !timeOfDay.MatchString(s) {
		return "", false
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	if hour < 8 || hour >= 18 || minute > 59 {
		return "", false
	}
	return s, true
}

// Mask replaces CPF and phone shapes in text with asterisks so they can be
// logged safely.
func Mask(text string) string {
	text = cpfFormatted.ReplaceAllString(text, "***.***.***-**")
	text = cpfBare.ReplaceAllString(text, "***********")
	text = phoneFormatted.ReplaceAllString(text, "(**) ****-****")
	return text
}

// MaskPhone obscures all but the last four digits of a phone number.
func MaskPhone(phone string) string {
	clean := OnlyDigits(phone)
	if len(clean) <= 4 {
		return strings.Repeat("*", len(clean))
	}
	return strings.Repeat("*", len(clean)-4) + clean[len(clean)-4:]
}
