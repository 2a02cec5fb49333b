// Package users validates the credentials a person submits to sign up or sign in.
// Accounts themselves live with the identity provider.
package users

import (
	"fmt"
	"strings"
	"unicode"
)

// Credentials is an email and password pair as typed by the user.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NormalizeEmail trims and lower-cases an email so sign-in is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Normalized returns a copy with the email normalized.
func (c Credentials) Normalized() Credentials {
	return Credentials{Email: NormalizeEmail(c.Email), Password: c.Password}
}

// Validate checks the credentials are usable for sign-in.
func (c Credentials) Validate() error {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	// Basic email format validation
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return fmt.Errorf("invalid email format")
	}

	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// ValidateForSignUp additionally enforces the password policy.
func (c Credentials) ValidateForSignUp() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return ValidatePasswordStrength(c.Password)
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len([]rune(password)) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}
