package threshold

import (
	"encoding/binary"
	"fmt"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// ObjectVersion is the encoding version written by Marshal.
const ObjectVersion byte = 1

var objectMagic = []byte("GEO")

// EncryptedShare is one key share sealed to one key server.
type EncryptedShare struct {
	// ServerID is the key server's object id.
	ServerID string
	// Index is the Shamir evaluation index of the share.
	Index uint16
	// Ephemeral is the compressed public key used for ECDH with the server.
	Ephemeral []byte
	// Ciphertext is the AES-GCM sealed share: nonce || ct || tag.
	Ciphertext []byte
}

// EncryptedObject is the self-describing output of Encrypt.
type EncryptedObject struct {
	PackageID  string
	Identity   []byte
	Threshold  int
	Shares     []EncryptedShare
	Ciphertext []byte
}

// Share returns the share sealed to serverID, if any.
func (o *EncryptedObject) Share(serverID string) (EncryptedShare, bool) {
	for _, s := range o.Shares {
		if s.ServerID == serverID {
			return s, true
		}
	}
	return EncryptedShare{}, false
}

// Marshal encodes the object:
//
//	"GEO" | version | package(32) | identity(32) | threshold u8 | n u8 |
//	n × (server(32) | index u16 | ephemeral(33) | len u16 | share ct) |
//	len u32 | payload ct
func (o *EncryptedObject) Marshal() ([]byte, error) {
	pkg, err := ledger.AddressBytes(o.PackageID)
	if err != nil {
		return nil, fmt.Errorf("%w: package: %w", ErrMalformedObject, err)
	}
	if len(o.Identity) != 32 {
		return nil, ErrInvalidIdentity
	}
	if o.Threshold < 1 || o.Threshold > len(o.Shares) || len(o.Shares) > 255 {
		return nil, ErrInvalidThreshold
	}

	buf := append([]byte(nil), objectMagic...)
	buf = append(buf, ObjectVersion)
	buf = append(buf, pkg[:]...)
	buf = append(buf, o.Identity...)
	buf = append(buf, byte(o.Threshold), byte(len(o.Shares)))
	for i, s := range o.Shares {
		id, err := ledger.AddressBytes(s.ServerID)
		if err != nil {
			return nil, fmt.Errorf("%w: share %d server: %w", ErrMalformedObject, i, err)
		}
		if len(s.Ephemeral) != 33 || len(s.Ciphertext) > 0xFFFF {
			return nil, fmt.Errorf("%w: share %d", ErrMalformedObject, i)
		}
		buf = append(buf, id[:]...)
		buf = binary.BigEndian.AppendUint16(buf, s.Index)
		buf = append(buf, s.Ephemeral...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Ciphertext)))
		buf = append(buf, s.Ciphertext...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(o.Ciphertext)))
	buf = append(buf, o.Ciphertext...)
	return buf, nil
}

// ParseObject decodes bytes produced by Marshal.
func ParseObject(data []byte) (*EncryptedObject, error) {
	p := parser{buf: data}
	if string(p.take(3)) != string(objectMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedObject)
	}
	if v := p.take(1); v == nil || v[0] != ObjectVersion {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformedObject)
	}

	o := &EncryptedObject{}
	o.PackageID = p.address()
	o.Identity = p.copy(32)
	hdr := p.take(2)
	if p.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedObject, p.err)
	}
	o.Threshold = int(hdr[0])
	n := int(hdr[1])
	if o.Threshold < 1 || o.Threshold > n {
		return nil, fmt.Errorf("%w: threshold %d of %d", ErrMalformedObject, o.Threshold, n)
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n && p.err == nil; i++ {
		var s EncryptedShare
		s.ServerID = p.address()
		s.Index = p.u16()
		s.Ephemeral = p.copy(33)
		s.Ciphertext = p.copy(int(p.u16()))
		if p.err == nil && seen[s.ServerID] {
			return nil, fmt.Errorf("%w: duplicate server %s", ErrMalformedObject, s.ServerID)
		}
		seen[s.ServerID] = true
		o.Shares = append(o.Shares, s)
	}
	o.Ciphertext = p.copy(int(p.u32()))
	if p.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedObject, p.err)
	}
	if len(p.buf) != p.pos {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedObject, len(p.buf)-p.pos)
	}
	return o, nil
}

type parser struct {
	buf []byte
	pos int
	err error
}

func (p *parser) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || len(p.buf)-p.pos < n {
		p.err = fmt.Errorf("truncated at offset %d", p.pos)
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *parser) copy(n int) []byte {
	b := p.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (p *parser) address() string {
	b := p.take(32)
	if b == nil {
		return ""
	}
	var a [32]byte
	copy(a[:], b)
	return ledger.FormatAddress(a)
}

func (p *parser) u16() uint16 {
	b := p.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (p *parser) u32() uint32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
