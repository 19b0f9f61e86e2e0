package envelope

import "errors"

var (
	// ErrMalformedEnvelope indicates the buffer is not a valid framed payload.
	ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

	// ErrHeaderTooLarge indicates the encoded header cannot be addressed by the length prefix.
	ErrHeaderTooLarge = errors.New("envelope: header exceeds length prefix range")

	// ErrInvalidHeader indicates a header field is out of range.
	ErrInvalidHeader = errors.New("envelope: invalid header")
)
