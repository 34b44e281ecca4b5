package password

import (
	"errors"
	"unicode"
)

// Policy is the registration and change-password strength policy: minimum
// length plus one character from each required class.
type Policy struct {
	MinLength int
}

// ErrPolicyViolation reports a password that fails the strength policy. The
// message is safe to surface to the end user.
var ErrPolicyViolation = errors.New("password must be at least the minimum length and contain upper, lower, digit, and symbol characters")

// Check validates the password against the policy. Length is counted in
// runes so multibyte characters are not penalized.
func (p Policy) Check(password string) error {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = 12
	}

	var upper, lower, digit, symbol bool
	count := 0
	for _, r := range password {
		count++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || r == ' ':
			symbol = true
		}
	}

	if count < minLen || !upper || !lower || !digit || !symbol {
		return ErrPolicyViolation
	}
	return nil
}
