package storage

import "strings"

// Upstream scrapers and the AI model emit placeholder text for unknown
// values. The rule applied across the pipeline: placeholders become SQL NULL
// in nullable columns, required display fields fall back to a literal "N/A",
// and length-limited columns are truncated to fit.

var sentinelValues = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"na":   {},
	"null": {},
	"none": {},
}

// IsSentinel reports whether the value is a placeholder for "unknown"
func IsSentinel(s string) bool {
	_, ok := sentinelValues[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// NormalizeOptional maps placeholder values to nil for nullable columns
func NormalizeOptional(s string) *string {
	if IsSentinel(s) {
		return nil
	}
	trimmed := strings.TrimSpace(s)
	return &trimmed
}

// NormalizeRequired keeps required display fields structurally non-empty
func NormalizeRequired(s string) string {
	if IsSentinel(s) {
		return "N/A"
	}
	return strings.TrimSpace(s)
}

// TruncateTo clips a value to a column's character limit, rune-safe
func TruncateTo(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// NormalizeOptionalN combines sentinel normalization with truncation
func NormalizeOptionalN(s string, limit int) *string {
	p := NormalizeOptional(s)
	if p == nil {
		return nil
	}
	truncated := TruncateTo(*p, limit)
	return &truncated
}
