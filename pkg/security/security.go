// Package security provides validation, sanitization, and limits for the backlog package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cadencecrm/backlog/pkg/core"
)

// Security limits and configuration
const (
	// MaxKindNameLength is the maximum length for job kind names
	MaxKindNameLength = 255

	// MaxPayloadSize is the maximum size in bytes for job payloads (1MB)
	MaxPayloadSize = 1 << 20

	// MaxAttempts is the hard limit for per-job attempt budgets
	MaxAttempts = 100

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxOwnerIDLength is the maximum length for owner ids
	MaxOwnerIDLength = 255

	// MaxBatchIDLength is the maximum length for batch ids
	MaxBatchIDLength = 255
)

// validKindName matches alphanumeric, hyphens, underscores, and dots
var validKindName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validOwnerID allows the same character set as kind names plus digits first,
// since tenant ids are often numeric or uuid-shaped
var validOwnerID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateKindName validates a job kind name
func ValidateKindName(name string) error {
	if name == "" {
		return core.ErrInvalidKindName
	}
	if len(name) > MaxKindNameLength {
		return core.ErrKindNameTooLong
	}
	if !validKindName.MatchString(name) {
		return core.ErrInvalidKindName
	}
	return nil
}

// ValidateOwnerID validates a tenant/owner id
func ValidateOwnerID(id string) error {
	if id == "" {
		return core.ErrInvalidOwnerID
	}
	if len(id) > MaxOwnerIDLength {
		return core.ErrOwnerIDTooLong
	}
	if !validOwnerID.MatchString(id) {
		return core.ErrInvalidOwnerID
	}
	return nil
}

// ValidateBatchID validates an optional batch grouping key
func ValidateBatchID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxBatchIDLength {
		return core.ErrBatchIDTooLong
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts ensures an attempt budget is within limits
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}
