package remotefile

import "errors"

var (
	// ErrNotFound is a valid outcome, not a fault: the remote path does not
	// exist. Callers use it to drive bootstrap logic.
	ErrNotFound = errors.New("remote path not found")

	// ErrIntegrity means the transferred byte count did not match the source.
	// The corrupt copy is removed before this is returned.
	ErrIntegrity = errors.New("transfer integrity check failed")

	// ErrLocalMissing is a caller error: the local file to upload does not
	// exist.
	ErrLocalMissing = errors.New("local file missing")
)
