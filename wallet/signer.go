package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"golang.org/x/crypto/blake2b"
)

// SchemeSecp256k1 is the signature scheme flag used in addresses and serialized signatures.
const SchemeSecp256k1 byte = 0x01

// PubKeyLen is the length of a compressed secp256k1 public key.
const PubKeyLen = 33

// Intent scopes a digest so a signature for one purpose cannot be replayed for another.
type Intent [3]byte

var (
	// IntentTransaction scopes signatures over transaction bytes.
	IntentTransaction = Intent{0, 0, 0}

	// IntentPersonalMessage scopes signatures over free-form messages.
	IntentPersonalMessage = Intent{3, 0, 0}
)

// Digest returns blake2b-256(intent || msg).
func Digest(intent Intent, msg []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(intent[:])
	h.Write(msg)
	return h.Sum(nil)
}

// AddressFromPublicKey returns "0x" + hex(blake2b-256(scheme || compressed pubkey)).
func AddressFromPublicKey(pub *ec.PublicKey) string {
	buf := make([]byte, 0, 1+PubKeyLen)
	buf = append(buf, SchemeSecp256k1)
	buf = append(buf, pub.Compressed()...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Actor is a single signing account.
type Actor struct {
	key     *ec.PrivateKey
	pub     *ec.PublicKey
	address string
	path    string
}

// NewActor wraps an existing private key.
func NewActor(key *ec.PrivateKey) (*Actor, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	pub := key.PubKey()
	return &Actor{key: key, pub: pub, address: AddressFromPublicKey(pub)}, nil
}

// GenerateActor creates an actor with a fresh random key.
func GenerateActor() (*Actor, error) {
	key, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	return NewActor(key)
}

// Address returns the actor's ledger address.
func (a *Actor) Address() string { return a.address }

// PublicKey returns the actor's public key.
func (a *Actor) PublicKey() *ec.PublicKey { return a.pub }

// PrivateKey returns the actor's private key.
func (a *Actor) PrivateKey() *ec.PrivateKey { return a.key }

// Path returns the derivation path, or "" for keys not derived from a wallet.
func (a *Actor) Path() string { return a.path }

// SignTransaction signs encoded transaction bytes.
func (a *Actor) SignTransaction(txBytes []byte) ([]byte, error) {
	return a.sign(IntentTransaction, txBytes)
}

// SignPersonalMessage signs a free-form message.
func (a *Actor) SignPersonalMessage(msg []byte) ([]byte, error) {
	return a.sign(IntentPersonalMessage, msg)
}

// sign produces scheme(1B) || pubkey(33B) || DER(signature).
func (a *Actor) sign(intent Intent, msg []byte) ([]byte, error) {
	sig, err := a.key.Sign(Digest(intent, msg))
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	der := sig.Serialize()
	out := make([]byte, 0, 1+PubKeyLen+len(der))
	out = append(out, SchemeSecp256k1)
	out = append(out, a.pub.Compressed()...)
	return append(out, der...), nil
}

// Verify checks that sig is a valid signature over msg under intent made by
// the key behind address.
func Verify(intent Intent, msg, sig []byte, address string) error {
	if len(sig) <= 1+PubKeyLen || sig[0] != SchemeSecp256k1 {
		return fmt.Errorf("%w: bad length or scheme", ErrInvalidSignature)
	}
	pub, err := ec.PublicKeyFromBytes(sig[1 : 1+PubKeyLen])
	if err != nil {
		return fmt.Errorf("%w: public key: %w", ErrInvalidSignature, err)
	}
	if !strings.EqualFold(AddressFromPublicKey(pub), address) {
		return ErrAddressMismatch
	}
	parsed, err := ec.ParseDERSignature(sig[1+PubKeyLen:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !parsed.Verify(Digest(intent, msg), pub) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyTransaction verifies a transaction signature.
func VerifyTransaction(txBytes, sig []byte, address string) error {
	return Verify(IntentTransaction, txBytes, sig, address)
}

// VerifyPersonalMessage verifies a personal message signature.
func VerifyPersonalMessage(msg, sig []byte, address string) error {
	return Verify(IntentPersonalMessage, msg, sig, address)
}

// Purpose tells an approval callback what is being signed.
type Purpose int

const (
	PurposeTransaction Purpose = iota
	PurposePersonalMessage
)

// PromptSigner asks Approve before every signature and returns ErrRejected
// when it declines.
type PromptSigner struct {
	Actor   *Actor
	Approve func(p Purpose, payload []byte) bool
}

// Address returns the wrapped actor's address.
func (s *PromptSigner) Address() string { return s.Actor.Address() }

// SignTransaction signs txBytes if approved.
func (s *PromptSigner) SignTransaction(txBytes []byte) ([]byte, error) {
	if s.Approve != nil && !s.Approve(PurposeTransaction, txBytes) {
		return nil, ErrRejected
	}
	return s.Actor.SignTransaction(txBytes)
}

// SignPersonalMessage signs msg if approved.
func (s *PromptSigner) SignPersonalMessage(msg []byte) ([]byte, error) {
	if s.Approve != nil && !s.Approve(PurposePersonalMessage, msg) {
		return nil, ErrRejected
	}
	return s.Actor.SignPersonalMessage(msg)
}
