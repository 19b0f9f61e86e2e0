package threshold

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libgrant-go/wallet"
)

// Certificate binds a session public key to an actor address for a limited
// time. The actor signs Message as a personal message.
type Certificate struct {
	Address    string `json:"address"`
	PackageID  string `json:"package_id"`
	SessionKey []byte `json:"session_key"`
	CreatedAt  int64  `json:"created_at"`
	TTLMinutes int    `json:"ttl_min"`
	Signature  []byte `json:"signature"`
}

// SessionKey is what a client needs to request shares: a signed certificate
// and the private half of its session key.
type SessionKey interface {
	Certificate() (*Certificate, error)
	PrivateKey() *ec.PrivateKey
}

// Message returns the canonical challenge the actor signs.
func (c *Certificate) Message() []byte {
	return []byte(fmt.Sprintf("Accessing keys of package %s for %d mins from %s, session key %s",
		c.PackageID, c.TTLMinutes,
		time.UnixMilli(c.CreatedAt).UTC().Format(time.RFC3339),
		hex.EncodeToString(c.SessionKey)))
}

// ExpiresAt returns the instant the certificate stops being accepted.
func (c *Certificate) ExpiresAt() time.Time {
	return time.UnixMilli(c.CreatedAt).Add(time.Duration(c.TTLMinutes) * time.Minute)
}

// Expired reports whether the certificate is past its TTL at now.
func (c *Certificate) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// Verify checks expiry first and then the actor's signature.
func (c *Certificate) Verify(now time.Time) error {
	if c.TTLMinutes <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrInvalidCertificate)
	}
	if c.Expired(now) {
		return fmt.Errorf("%w: expired at %s", ErrSessionExpired, c.ExpiresAt().UTC().Format(time.RFC3339))
	}
	if len(c.Signature) == 0 {
		return fmt.Errorf("%w: unsigned", ErrInvalidCertificate)
	}
	if _, err := ec.PublicKeyFromBytes(c.SessionKey); err != nil {
		return fmt.Errorf("%w: session key: %w", ErrInvalidCertificate, err)
	}
	if err := wallet.VerifyPersonalMessage(c.Message(), c.Signature, c.Address); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	return nil
}

// requestDigest is what the session key signs for each fetch.
func requestDigest(approval, identity []byte) []byte {
	h := sha256.New()
	h.Write(approval)
	h.Write(identity)
	return h.Sum(nil)
}

// signRequest proves possession of the session key.
func signRequest(priv *ec.PrivateKey, approval, identity []byte) ([]byte, error) {
	sig, err := priv.Sign(requestDigest(approval, identity))
	if err != nil {
		return nil, fmt.Errorf("threshold: sign request: %w", err)
	}
	return sig.Serialize(), nil
}

func verifyRequest(sessionKey, sig, approval, identity []byte) error {
	pub, err := ec.PublicKeyFromBytes(sessionKey)
	if err != nil {
		return fmt.Errorf("%w: session key: %w", ErrInvalidCertificate, err)
	}
	parsed, err := ec.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: request signature: %w", ErrInvalidCertificate, err)
	}
	if !parsed.Verify(requestDigest(approval, identity), pub) {
		return fmt.Errorf("%w: request signature mismatch", ErrInvalidCertificate)
	}
	return nil
}
