package soilfetch

import "soilfetch/internal/errs"

// Error categories. Every error the library returns wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	// ErrInvalidAOI marks a rejected area of interest: wrong geometry
	// type, empty, or zero area.
	ErrInvalidAOI = errs.ErrInvalidAOI
	// ErrInvalidParameters marks a malformed request: unknown service or
	// coverage, bad block sizes, bad option values.
	ErrInvalidParameters = errs.ErrInvalidParameters
	// ErrNetworkFailure marks a tile fetch that failed after retries.
	ErrNetworkFailure = errs.ErrNetworkFailure
	// ErrCorruptResponse marks a response that arrived but could not be
	// used: undecodable raster or wrong dimensions.
	ErrCorruptResponse = errs.ErrCorruptResponse
	// ErrReprojectionFailure marks an unusable coordinate transform.
	ErrReprojectionFailure = errs.ErrReprojectionFailure
	// ErrWriteFailure marks a failure persisting the output raster.
	ErrWriteFailure = errs.ErrWriteFailure
)
