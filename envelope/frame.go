// Package envelope frames file bytes together with a small JSON metadata header
// so that the original filename, media type and size survive encryption and
// storage.
//
// Wire format:
//
//	[4-byte little-endian header length][UTF-8 JSON header][raw file bytes]
package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// PrefixLen is the size of the header length prefix in bytes.
const PrefixLen = 4

// Header is the metadata carried in front of the file bytes.
type Header struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// wireHeader mirrors Header with pointer fields so that missing keys can be
// told apart from zero values while decoding.
type wireHeader struct {
	Name *string      `json:"name"`
	Type *string      `json:"type"`
	Size *json.Number `json:"size"`
}

// NewHeader builds a header for data, detecting the media type from name.
func NewHeader(name string, data []byte) Header {
	return Header{
		Name: name,
		Type: DetectMimeType(name, data),
		Size: int64(len(data)),
	}
}

// Frame serializes h and data into a single buffer.
func Frame(data []byte, h Header) ([]byte, error) {
	if h.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidHeader, h.Size)
	}

	hdr, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal header: %w", err)
	}
	if uint64(len(hdr)) > math.MaxUint32 {
		return nil, ErrHeaderTooLarge
	}

	buf := make([]byte, PrefixLen, PrefixLen+len(hdr)+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(hdr)))
	buf = append(buf, hdr...)
	buf = append(buf, data...)
	return buf, nil
}

// Unframe splits a framed buffer into its header and file bytes.
//
// The returned data slice aliases buf.
func Unframe(buf []byte) (Header, []byte, error) {
	if len(buf) < PrefixLen {
		return Header{}, nil, fmt.Errorf("%w: buffer too short (%d bytes)", ErrMalformedEnvelope, len(buf))
	}

	hdrLen := uint64(binary.LittleEndian.Uint32(buf[:PrefixLen]))
	rest := buf[PrefixLen:]
	if hdrLen > uint64(len(rest)) {
		return Header{}, nil, fmt.Errorf("%w: header length %d exceeds remaining %d bytes",
			ErrMalformedEnvelope, hdrLen, len(rest))
	}

	h, err := decodeHeader(rest[:hdrLen])
	if err != nil {
		return Header{}, nil, err
	}
	return h, rest[hdrLen:], nil
}

func decodeHeader(raw []byte) (Header, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var w wireHeader
	if err := dec.Decode(&w); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	// The header must be exactly one JSON value.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Header{}, fmt.Errorf("%w: trailing data after header", ErrMalformedEnvelope)
	}
	if w.Name == nil || w.Type == nil || w.Size == nil {
		return Header{}, fmt.Errorf("%w: header missing name, type or size", ErrMalformedEnvelope)
	}

	size, err := w.Size.Int64()
	if err != nil || size < 0 {
		return Header{}, fmt.Errorf("%w: invalid size %q", ErrMalformedEnvelope, w.Size.String())
	}

	return Header{Name: *w.Name, Type: *w.Type, Size: size}, nil
}
