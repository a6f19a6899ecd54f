package media

import "errors"

// Failure kinds surfaced to the API layer. Process-level kinds (timeout,
// output cap, nonzero exit) are the runner package's sentinels and pass
// through unchanged; artifact lookup failures are the artifact package's.
var (
	// ErrMissingInput reports a request without a target identifier.
	ErrMissingInput = errors.New("target url is required")
	// ErrUnsupportedTarget reports a collection identifier submitted to a
	// single-item path, or vice versa.
	ErrUnsupportedTarget = errors.New("unsupported target")
	// ErrMalformedMetadata reports unparsable or incomplete JSON from the
	// external tool's metadata mode.
	ErrMalformedMetadata = errors.New("malformed metadata")
	// ErrDownloadInFlight reports a duplicate download for a target that is
	// already being processed.
	ErrDownloadInFlight = errors.New("a download for this target is already in flight")
)
