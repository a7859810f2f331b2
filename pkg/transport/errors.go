package transport

import "errors"

var (
	// ErrAuth means the credential was rejected. It is never retried.
	ErrAuth = errors.New("authentication rejected")

	// ErrConnect is any other transport fault: unreachable host, timeout,
	// handshake failure. Retried up to the policy bound, then surfaced with
	// the last underlying cause attached.
	ErrConnect = errors.New("connection failed")
)
