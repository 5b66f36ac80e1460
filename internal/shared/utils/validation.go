package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxTitleLength = 256
	// MaxContentLength bounds one chat message; a code cell larger than this
	// is not something the editor produces.
	MaxContentLength = 256 * 1024
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}

	return nil
}

// ValidateTitle checks an optional conversation title.
func ValidateTitle(title string) error {
	return ValidateString(title, "title", 0, MaxTitleLength, false)
}

// ValidateContent checks a chat message body. Empty messages are rejected.
func ValidateContent(content string) error {
	return ValidateString(content, "content", 1, MaxContentLength, true)
}
