package proto

import "strings"

// MaxLoginLength bounds accepted login strings.
const MaxLoginLength = 64

// MaxEmailLength bounds accepted e-mail strings.
const MaxEmailLength = 254

// ValidLogin reports whether s may serve as a login. Logins must be
// non-empty, fit MaxLoginLength, and stay clear of the payload key-value
// syntax and control bytes.
func ValidLogin(s string) bool {
	if s == "" || len(s) > MaxLoginLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c == 0x7f || c == '&' || c == '=' {
			return false
		}
	}
	return true
}

// ValidEmail reports whether s is RFC-822-shaped: one '@' with a non-empty
// local part and a dotted domain. Full address grammar is out of scope;
// uniqueness is enforced by the account store.
func ValidEmail(s string) bool {
	if s == "" || len(s) > MaxEmailLength {
		return false
	}
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" || domain == "" {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n&=") || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}
	return true
}
