// Package secrets generates one-time passwords and wraps bcrypt.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "togoretrouve/pkg/domain-errors"
)

// MinPasswordLength applies to user-chosen passwords.
const MinPasswordLength = 8

// Generate creates a cryptographically secure random password, printed once
// by the provisioning command and never stored in clear.
func Generate() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash checks the password policy and returns its bcrypt hash.
func Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "password is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext password against a bcrypt hash.
func Verify(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}
