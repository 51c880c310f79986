package domain

import "errors"

// Error taxonomy for the sync layer. Callers match with errors.Is; the
// concrete cause is wrapped underneath.
var (
	// ErrStoreUnavailable: the local durability layer failed to
	// initialize or execute an operation.
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrRemoteUnreachable: network failure or timeout before the
	// remote service produced a response.
	ErrRemoteUnreachable = errors.New("remote service unreachable")

	// ErrRemoteRejected: the remote service answered with a failure.
	ErrRemoteRejected = errors.New("remote service rejected request")

	// ErrNotFound: a fetch referenced an id the service does not know.
	// Deletes treat an absent id as success and never return this.
	ErrNotFound = errors.New("not found")
)
