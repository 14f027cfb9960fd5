// Package email normalizes and sanity-checks addresses before they become unique keys.
package email

import (
	"net/mail"
	"strings"
	"unicode"

	dErrors "togoretrouve/pkg/domain-errors"
)

// Normalize trims and lowercases an address. Uniqueness is checked on this form.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Validate returns a validation error unless address parses as a bare addr-spec.
func Validate(address string) error {
	if address == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address || parsed.Name != "" {
		return dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}
	return nil
}

// DeriveNameFromEmail guesses first and last names from the local part, for
// accounts provisioned without a profile.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
