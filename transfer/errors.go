package transfer

import "errors"

var (
	// ErrAccessDenied indicates the actor may not download the file.
	ErrAccessDenied = errors.New("transfer: access denied")

	// ErrNoActor indicates an operation that needs a connected actor was called without one.
	ErrNoActor = errors.New("transfer: no actor connected")

	// ErrEmptyFile indicates an upload with no content.
	ErrEmptyFile = errors.New("transfer: empty file")

	// ErrInvalidGrant indicates a grant request that cannot be encoded.
	ErrInvalidGrant = errors.New("transfer: invalid grant")

	// ErrInvalidOptions indicates a constructor was missing a dependency.
	ErrInvalidOptions = errors.New("transfer: invalid options")
)
