package sanitize

import "strings"

// Field-specific helpers. These operate unconditionally — they are for
// callers that must mask one known-sensitive value even when whole-object
// sanitization is switched off (development tooling, support exports).

// MaskEmail masks the local part and domain stem of an address, preserving
// the TLD: "john.doe@company.com" → "j***e@c***.com". Values without an @
// are fully masked.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]

	maskedLocal := "***"
	if len(local) > 2 {
		maskedLocal = local[:1] + "***" + local[len(local)-1:]
	}

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return maskedLocal + "@***"
	}
	stem, tld := domain[:dot], domain[dot+1:]
	maskedStem := "***"
	if len(stem) > 2 {
		maskedStem = stem[:1] + "***"
	}
	return maskedLocal + "@" + maskedStem + "." + tld
}

// MaskPhone keeps the last four digits: "+1 (555) 123-4567" →
// "***-***-4567". Fewer than four digits masks entirely.
func MaskPhone(phone string) string {
	digits := digitsOf(phone)
	if len(digits) < 4 {
		return "***-***"
	}
	return "***-***-" + digits[len(digits)-4:]
}

// MaskCreditCard keeps the last four digits: "4111 1111 1111 1111" →
// "****-****-****-1111". Fewer than four digits masks entirely.
func MaskCreditCard(card string) string {
	digits := digitsOf(card)
	if len(digits) < 4 {
		return "****"
	}
	return "****-****-****-" + digits[len(digits)-4:]
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
