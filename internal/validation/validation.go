package validation

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperengineering/tasksync/internal/types"
)

// Limits applied to submitted changes.
const (
	MaxChangesPerRequest = 1000
	MaxLocalIDLength     = 128
	MaxTitleLength       = 500
	MaxDescriptionLength = 4000
)

// Timestamps are stored as int64 nanoseconds since the epoch.
var (
	MinOperationTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxOperationTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

var operationKinds = []string{
	string(types.OperationCreate),
	string(types.OperationUpdate),
	string(types.OperationDelete),
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U).
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	// Crockford Base32 alphabet: 0123456789ABCDEFGHJKMNPQRSTVWXYZ
	// Excludes: I, L, O, U (to avoid confusion)
	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range value {
		upper := strings.ToUpper(string(r))
		if !strings.Contains(crockfordBase32, upper) {
			return &ValidationError{
				Field:   field,
				Message: "must be a valid ULID (invalid character)",
			}
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateText runs the UTF-8, null byte and length checks shared by every
// free-text field, stopping at the first failure.
func ValidateText(field, value string, max int) *ValidationError {
	if err := ValidateUTF8(field, value); err != nil {
		return err
	}
	if err := ValidateNoNullBytes(field, value); err != nil {
		return err
	}
	return ValidateMaxLength(field, value, max)
}

// ValidateClientChange validates one submitted change. The index is used
// in field names so clients can locate the offending change.
func ValidateClientChange(index int, c types.ClientChange) []ValidationError {
	prefix := fmt.Sprintf("changes[%d]", index)
	var col Collector

	col.Add(ValidateEnum(prefix+".kind", string(c.Kind), operationKinds))

	if err := ValidateRequired(prefix+".local_id", c.LocalID); err != nil {
		col.Add(err)
	} else {
		col.Add(ValidateText(prefix+".local_id", c.LocalID, MaxLocalIDLength))
	}

	if c.ServerID != "" {
		col.Add(ValidateULID(prefix+".server_id", c.ServerID))
	}

	if c.OperationTimestamp != nil {
		col.Add(ValidateTimestamp(prefix+".operation_timestamp", *c.OperationTimestamp))
	}

	patch, err := types.ParsePatch(c.Payload)
	if err != nil {
		col.Add(&ValidationError{Field: prefix + ".payload", Message: err.Error()})
		return col.Errors()
	}

	if patch.Title != nil {
		col.Add(ValidateText(prefix+".payload.title", *patch.Title, MaxTitleLength))
	}
	if patch.Description != nil {
		col.Add(ValidateText(prefix+".payload.description", *patch.Description, MaxDescriptionLength))
	}
	if c.Kind == types.OperationCreate {
		title := ""
		if patch.Title != nil {
			title = *patch.Title
		}
		col.Add(ValidateRequired(prefix+".payload.title", title))
	}

	return col.Errors()
}

// ValidateTimestamp rejects the zero time and any instant outside the
// storable nanosecond range.
func ValidateTimestamp(field string, ts time.Time) *ValidationError {
	if ts.IsZero() {
		return &ValidationError{Field: field, Message: "must not be the zero time"}
	}
	if ts.Before(MinOperationTimestamp) || ts.After(MaxOperationTimestamp) {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %s and %s",
				MinOperationTimestamp.Format(time.RFC3339), MaxOperationTimestamp.Format(time.RFC3339)),
		}
	}
	return nil
}

// ValidateChanges validates a whole submission. Any error rejects every
// change in it.
func ValidateChanges(changes []types.ClientChange) []ValidationError {
	var col Collector
	if len(changes) > MaxChangesPerRequest {
		col.Add(&ValidationError{
			Field:   "changes",
			Message: fmt.Sprintf("exceeds maximum of %d changes per request", MaxChangesPerRequest),
		})
		return col.Errors()
	}
	for i, c := range changes {
		for _, e := range ValidateClientChange(i, c) {
			col.Add(&e)
		}
	}
	return col.Errors()
}
