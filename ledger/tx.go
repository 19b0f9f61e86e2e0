package ledger

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ArgKind tags an Argument.
type ArgKind byte

const (
	ArgPure   ArgKind = 1
	ArgObject ArgKind = 2
)

// Argument is one input to a Move call: pure bytes or an object reference.
type Argument struct {
	Kind    ArgKind
	Pure    []byte
	Object  ObjectRef
	Mutable bool
}

// Command is a single Move call.
type Command struct {
	Package  string
	Module   string
	Function string
	TypeArgs []string
	Args     []Argument
}

// Target returns "package::module::function".
func (c *Command) Target() string {
	return c.Package + "::" + c.Module + "::" + c.Function
}

// Transaction is an ordered list of commands executed atomically. The
// transaction kind (commands only) is what dev-inspection and the threshold
// network consume; Sender and GasBudget are filled in at submission.
type Transaction struct {
	Sender    string
	GasBudget uint64
	Commands  []Command
}

// ---------------------------------------------------------------------------
// Pure argument encoding: length-prefixed (uleb128) vectors, little-endian
// integers, single-byte bools, raw 32-byte addresses.
// ---------------------------------------------------------------------------

// PureBytes encodes a vector<u8>.
func PureBytes(b []byte) Argument {
	buf := appendUvarint(make([]byte, 0, len(b)+binary.MaxVarintLen32), uint64(len(b)))
	return Argument{Kind: ArgPure, Pure: append(buf, b...)}
}

// PureString encodes a UTF-8 string.
func PureString(s string) Argument {
	return PureBytes([]byte(s))
}

// PureBool encodes a bool.
func PureBool(v bool) Argument {
	if v {
		return Argument{Kind: ArgPure, Pure: []byte{1}}
	}
	return Argument{Kind: ArgPure, Pure: []byte{0}}
}

// PureU64 encodes a u64.
func PureU64(v uint64) Argument {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return Argument{Kind: ArgPure, Pure: b}
}

// PureAddress encodes an address.
func PureAddress(addr string) (Argument, error) {
	b, err := AddressBytes(addr)
	if err != nil {
		return Argument{}, err
	}
	return Argument{Kind: ArgPure, Pure: b[:]}, nil
}

// PureAddressVector encodes a vector<address>.
func PureAddressVector(addrs []string) (Argument, error) {
	buf := appendUvarint(make([]byte, 0, 1+len(addrs)*AddressLen), uint64(len(addrs)))
	for _, a := range addrs {
		b, err := AddressBytes(a)
		if err != nil {
			return Argument{}, err
		}
		buf = append(buf, b[:]...)
	}
	return Argument{Kind: ArgPure, Pure: buf}, nil
}

// PureU64Vector encodes a vector<u64>.
func PureU64Vector(vals []uint64) Argument {
	buf := appendUvarint(make([]byte, 0, 1+len(vals)*8), uint64(len(vals)))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return Argument{Kind: ArgPure, Pure: buf}
}

// ObjectArg references an existing object.
func ObjectArg(ref ObjectRef, mutable bool) Argument {
	return Argument{Kind: ArgObject, Object: ref, Mutable: mutable}
}

// DecodePureBytes decodes a vector<u8> argument.
func DecodePureBytes(a Argument) ([]byte, error) {
	if a.Kind != ArgPure {
		return nil, fmt.Errorf("%w: expected pure argument", ErrInvalidTransaction)
	}
	n, sz := binary.Uvarint(a.Pure)
	if sz <= 0 || uint64(len(a.Pure)-sz) != n {
		return nil, fmt.Errorf("%w: bad vector length", ErrInvalidTransaction)
	}
	return a.Pure[sz:], nil
}

// DecodePureString decodes a string argument.
func DecodePureString(a Argument) (string, error) {
	b, err := DecodePureBytes(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePureBool decodes a bool argument.
func DecodePureBool(a Argument) (bool, error) {
	if a.Kind != ArgPure || len(a.Pure) != 1 || a.Pure[0] > 1 {
		return false, fmt.Errorf("%w: expected bool", ErrInvalidTransaction)
	}
	return a.Pure[0] == 1, nil
}

// DecodePureU64 decodes a u64 argument.
func DecodePureU64(a Argument) (uint64, error) {
	if a.Kind != ArgPure || len(a.Pure) != 8 {
		return 0, fmt.Errorf("%w: expected u64", ErrInvalidTransaction)
	}
	return binary.LittleEndian.Uint64(a.Pure), nil
}

// DecodePureAddress decodes an address argument into canonical form.
func DecodePureAddress(a Argument) (string, error) {
	if a.Kind != ArgPure || len(a.Pure) != AddressLen {
		return "", fmt.Errorf("%w: expected address", ErrInvalidTransaction)
	}
	var b [AddressLen]byte
	copy(b[:], a.Pure)
	return FormatAddress(b), nil
}

// DecodePureAddressVector decodes a vector<address> argument.
func DecodePureAddressVector(a Argument) ([]string, error) {
	body, n, err := vectorBody(a, AddressLen)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var b [AddressLen]byte
		copy(b[:], body[i*AddressLen:])
		out = append(out, FormatAddress(b))
	}
	return out, nil
}

// DecodePureU64Vector decodes a vector<u64> argument.
func DecodePureU64Vector(a Argument) ([]uint64, error) {
	body, n, err := vectorBody(a, 8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, binary.LittleEndian.Uint64(body[i*8:]))
	}
	return out, nil
}

// vectorBody validates a fixed-width element vector and returns its elements' bytes.
func vectorBody(a Argument, width int) ([]byte, int, error) {
	if a.Kind != ArgPure {
		return nil, 0, fmt.Errorf("%w: expected pure argument", ErrInvalidTransaction)
	}
	n, sz := binary.Uvarint(a.Pure)
	if sz <= 0 || n > uint64(len(a.Pure)) || uint64(len(a.Pure)-sz) != n*uint64(width) {
		return nil, 0, fmt.Errorf("%w: bad vector length", ErrInvalidTransaction)
	}
	return a.Pure[sz:], int(n), nil
}

// ---------------------------------------------------------------------------
// Binary transaction codec.
// ---------------------------------------------------------------------------

var (
	kindMagic = []byte("GTK\x01")
	txMagic   = []byte("GTX\x01")
)

// EncodeKind serializes only the commands, the form consumed by
// dev-inspection and the threshold network.
func (tx *Transaction) EncodeKind() ([]byte, error) {
	buf := append([]byte(nil), kindMagic...)
	buf = appendUvarint(buf, uint64(len(tx.Commands)))
	for i := range tx.Commands {
		var err error
		if buf, err = appendCommand(buf, &tx.Commands[i]); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}
	return buf, nil
}

// Encode serializes the full transaction including sender and gas budget.
func (tx *Transaction) Encode() ([]byte, error) {
	sender, err := AddressBytes(tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %w", ErrInvalidTransaction, err)
	}
	kind, err := tx.EncodeKind()
	if err != nil {
		return nil, err
	}
	buf := append([]byte(nil), txMagic...)
	buf = append(buf, sender[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.GasBudget)
	buf = appendBytes(buf, kind)
	return buf, nil
}

// DecodeKind parses bytes produced by EncodeKind. Sender and GasBudget are left empty.
func DecodeKind(data []byte) (*Transaction, error) {
	r := &reader{buf: data}
	if !r.expect(kindMagic) {
		return nil, fmt.Errorf("%w: bad kind magic", ErrInvalidTransaction)
	}
	n := r.uvarint()
	if r.err == nil && n > math.MaxUint16 {
		return nil, fmt.Errorf("%w: too many commands", ErrInvalidTransaction)
	}
	tx := &Transaction{}
	for i := uint64(0); i < n && r.err == nil; i++ {
		tx.Commands = append(tx.Commands, r.command())
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, r.err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTransaction, r.remaining())
	}
	return tx, nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Transaction, error) {
	r := &reader{buf: data}
	if !r.expect(txMagic) {
		return nil, fmt.Errorf("%w: bad transaction magic", ErrInvalidTransaction)
	}
	sender := r.address()
	budget := r.uint64()
	kind := r.bytes()
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, r.err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTransaction, r.remaining())
	}
	tx, err := DecodeKind(kind)
	if err != nil {
		return nil, err
	}
	tx.Sender = sender
	tx.GasBudget = budget
	return tx, nil
}

func appendCommand(buf []byte, c *Command) ([]byte, error) {
	pkg, err := AddressBytes(c.Package)
	if err != nil {
		return nil, err
	}
	if c.Module == "" || c.Function == "" {
		return nil, fmt.Errorf("%w: empty module or function", ErrInvalidTransaction)
	}
	buf = append(buf, pkg[:]...)
	buf = appendBytes(buf, []byte(c.Module))
	buf = appendBytes(buf, []byte(c.Function))
	buf = appendUvarint(buf, uint64(len(c.TypeArgs)))
	for _, t := range c.TypeArgs {
		buf = appendBytes(buf, []byte(t))
	}
	buf = appendUvarint(buf, uint64(len(c.Args)))
	for _, a := range c.Args {
		buf = append(buf, byte(a.Kind))
		switch a.Kind {
		case ArgPure:
			buf = appendBytes(buf, a.Pure)
		case ArgObject:
			id, err := AddressBytes(a.Object.ID)
			if err != nil {
				return nil, err
			}
			buf = append(buf, id[:]...)
			buf = binary.LittleEndian.AppendUint64(buf, a.Object.Version)
			if a.Mutable {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		default:
			return nil, fmt.Errorf("%w: unknown argument kind %d", ErrInvalidTransaction, a.Kind)
		}
	}
	return buf, nil
}

// appendUvarint appends a uvarint-encoded value.
func appendUvarint(buf []byte, x uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

// appendBytes appends a uvarint length followed by data.
func appendBytes(buf []byte, data []byte) []byte {
	buf = appendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

// reader is a bounds-checked cursor. The first error sticks; later reads
// return zero values.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.remaining() {
		r.fail("truncated at offset %d: need %d bytes, have %d", r.pos, n, r.remaining())
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) expect(magic []byte) bool {
	b := r.take(len(magic))
	return r.err == nil && string(b) == string(magic)
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.fail("bad uvarint at offset %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if n > uint64(r.remaining()) {
		r.fail("length %d exceeds remaining %d", n, r.remaining())
		return nil
	}
	return r.take(int(n))
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) address() string {
	b := r.take(AddressLen)
	if b == nil {
		return ""
	}
	var a [AddressLen]byte
	copy(a[:], b)
	return FormatAddress(a)
}

func (r *reader) command() Command {
	c := Command{Package: r.address()}
	c.Module = string(r.bytes())
	c.Function = string(r.bytes())
	nt := r.uvarint()
	for i := uint64(0); i < nt && r.err == nil; i++ {
		c.TypeArgs = append(c.TypeArgs, string(r.bytes()))
	}
	na := r.uvarint()
	for i := uint64(0); i < na && r.err == nil; i++ {
		kind := r.take(1)
		if kind == nil {
			break
		}
		a := Argument{Kind: ArgKind(kind[0])}
		switch a.Kind {
		case ArgPure:
			a.Pure = append([]byte(nil), r.bytes()...)
		case ArgObject:
			a.Object.ID = r.address()
			a.Object.Version = r.uint64()
			m := r.take(1)
			a.Mutable = m != nil && m[0] == 1
		default:
			r.fail("unknown argument kind %d", a.Kind)
		}
		c.Args = append(c.Args, a)
	}
	if r.err == nil && (c.Module == "" || c.Function == "") {
		r.fail("empty module or function")
	}
	return c
}
