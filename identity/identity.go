// Package identity generates the per-file encryption identity that binds an
// on-ledger capability to exactly one encrypted payload.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// Size is the length of an identity in bytes.
	Size = 32

	// HexPrefix is prepended to the hex form handed to the threshold network.
	HexPrefix = "0x"
)

// ID is a 256-bit encryption identity.
type ID [Size]byte

// Generate draws a fresh identity from crypto/rand.
func Generate() (ID, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom draws an identity from r.
func GenerateFrom(r io.Reader) (ID, error) {
	var id ID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return ID{}, fmt.Errorf("%w: %w", ErrRandomSource, err)
	}
	return id, nil
}

// FromBytes copies b into an ID. b must be exactly Size bytes.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return ID{}, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Parse decodes the prefixed hex form produced by Hex. Uppercase digits are
// accepted; the prefix is required.
func Parse(s string) (ID, error) {
	if !strings.HasPrefix(s, HexPrefix) {
		return ID{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidHex, HexPrefix)
	}
	b, err := hex.DecodeString(s[len(HexPrefix):])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return FromBytes(b)
}

// Bytes returns a copy of the raw identity, the form used in ledger calls.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// Hex returns the lowercase, 0x-prefixed form used for the encryption call.
func (id ID) Hex() string {
	return HexPrefix + hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ID) String() string { return id.Hex() }

// IsZero reports whether id is the all-zero value.
func (id ID) IsZero() bool { return id == ID{} }
