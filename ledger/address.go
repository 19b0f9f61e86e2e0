package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the byte length of addresses and object ids.
const AddressLen = 32

// NormalizeAddress returns the canonical form of an address or object id:
// lowercase, 0x-prefixed, left-padded to 64 hex digits. Short forms such as
// "0x6" are accepted; the 0x prefix is required.
func NormalizeAddress(s string) (string, error) {
	b, err := AddressBytes(s)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// AddressBytes decodes an address or object id into its 32-byte form.
func AddressBytes(s string) ([AddressLen]byte, error) {
	var out [AddressLen]byte
	h, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if !ok || h == "" || len(h) > 2*AddressLen {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return out, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	copy(out[AddressLen-len(raw):], raw)
	return out, nil
}

// FormatAddress encodes 32 raw bytes as a canonical address.
func FormatAddress(b [AddressLen]byte) string {
	return "0x" + hex.EncodeToString(b[:])
}

// mustNormalize is used for compile-time constants known to be valid.
func mustNormalize(s string) string {
	n, err := NormalizeAddress(s)
	if err != nil {
		panic(err)
	}
	return n
}
