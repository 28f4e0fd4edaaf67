package domain

import "errors"

var (
	// ErrDuplicateJob is returned when an insert hits the natural-key or
	// posting-URL unique constraint. Treated as success by consumers.
	ErrDuplicateJob = errors.New("job listing already exists")

	// ErrJobNotFound is returned when an update-by-id matches no row
	ErrJobNotFound = errors.New("job listing not found")

	// ErrInvalidPayload is returned when a message body is malformed JSON
	ErrInvalidPayload = errors.New("invalid message payload")

	// ErrMaxRetriesExceeded is returned when a message has exhausted its retry budget
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
