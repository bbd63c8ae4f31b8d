package archive

import "errors"

// Domain-specific errors for archive operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidSample is returned when a sample is missing required fields.
	ErrInvalidSample = errors.New("archive: invalid sample")

	// ErrInvalidQuery is returned when query parameters are malformed.
	ErrInvalidQuery = errors.New("archive: invalid query")

	// ErrNoSamples is returned by Latest when nothing has been recorded
	// for the requested process variable.
	ErrNoSamples = errors.New("archive: no samples")
)
