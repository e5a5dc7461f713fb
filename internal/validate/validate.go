// Package validate holds the input checks shared by every mutating operation.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	MaxListNameLength = 60
	MaxTaskNameLength = 100
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Text trims value and enforces presence and the maximum length. The field
// name appears verbatim in error messages shown to the caller.
func Text(value, field string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if len(trimmed) > maxLength {
		return "", fmt.Errorf("%s cannot exceed %d characters", field, maxLength)
	}
	return trimmed, nil
}

// Email lowercases and validates an email address asserted by the identity
// gateway.
func Email(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", fmt.Errorf("email is required")
	}
	if !emailPattern.MatchString(trimmed) {
		return "", fmt.Errorf("email is not a valid address")
	}
	return trimmed, nil
}
