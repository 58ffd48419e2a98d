// Package errs defines the error taxonomy shared by all pipeline stages.
// Stages wrap these sentinels with %w so callers can classify failures
// with errors.Is without depending on stage internals.
package errs

import "errors"

var (
	// ErrInvalidAOI marks an empty, degenerate or out-of-extent geometry.
	ErrInvalidAOI = errors.New("invalid area of interest")

	// ErrInvalidParameters marks malformed caller input: non-positive block
	// sizes, unknown resampling names, unknown service or coverage ids.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNetworkFailure marks a tile fetch that exhausted its retries.
	ErrNetworkFailure = errors.New("network failure")

	// ErrCorruptResponse marks a tile payload that decoded to the wrong
	// shape. Never retried: it indicates a protocol defect, not transience.
	ErrCorruptResponse = errors.New("corrupt response")

	// ErrReprojectionFailure marks an unsupported or degenerate target grid.
	ErrReprojectionFailure = errors.New("reprojection failure")

	// ErrWriteFailure marks a destination that cannot be created or written.
	ErrWriteFailure = errors.New("write failure")
)
