package identity

import "errors"

var (
	// ErrRandomSource indicates the entropy source failed.
	ErrRandomSource = errors.New("identity: random source failure")

	// ErrInvalidLength indicates raw identity bytes are not 32 bytes long.
	ErrInvalidLength = errors.New("identity: invalid length")

	// ErrInvalidHex indicates a hex identity could not be decoded.
	ErrInvalidHex = errors.New("identity: invalid hex encoding")
)
