package pkg

import "errors"

var (
	// ErrKeyNotFound is returned when a key doesn't exist on the owning node
	ErrKeyNotFound = errors.New("key not found")

	// ErrContextCanceled is returned when the context is canceled
	ErrContextCanceled = errors.New("context canceled")

	// ErrStorageUnavailable is returned when storage is closed
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedRequest is returned when a request is missing required fields
	ErrMalformedRequest = errors.New("malformed request")

	// ErrForwardingFailed is returned when relaying an operation to the owner fails
	ErrForwardingFailed = errors.New("forwarding failed")

	// ErrRegistrationFailed is returned once every bootstrap attempt has failed
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrSnapshotWrite wraps best-effort snapshot failures
	ErrSnapshotWrite = errors.New("snapshot write failed")
)
