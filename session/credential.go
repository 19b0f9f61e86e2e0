package session

import (
	"fmt"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/threshold"
)

// DefaultTTL is the lifetime of a new credential.
const DefaultTTL = 10 * time.Minute

// Credential is a short-lived, actor-signed session key. It lives only in
// process memory.
type Credential struct {
	cert threshold.Certificate
	priv *ec.PrivateKey
}

var _ threshold.SessionKey = (*Credential)(nil)

func newCredential(address, packageID string, ttl time.Duration, now time.Time) (*Credential, error) {
	addr, err := ledger.NormalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("session: actor address: %w", err)
	}
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("session: generate session key: %w", err)
	}
	return &Credential{
		cert: threshold.Certificate{
			Address:    addr,
			PackageID:  packageID,
			SessionKey: priv.PubKey().Compressed(),
			CreatedAt:  now.UnixMilli(),
			TTLMinutes: int(ttl / time.Minute),
		},
		priv: priv,
	}, nil
}

// Address returns the actor the credential is bound to.
func (c *Credential) Address() string { return c.cert.Address }

// Challenge returns the message the actor signs.
func (c *Credential) Challenge() []byte { return c.cert.Message() }

// Signed reports whether the actor's signature is attached.
func (c *Credential) Signed() bool { return len(c.cert.Signature) > 0 }

// ExpiresAt returns the end of the credential's TTL.
func (c *Credential) ExpiresAt() time.Time { return c.cert.ExpiresAt() }

// Expired reports whether the credential is past its TTL at now.
func (c *Credential) Expired(now time.Time) bool { return c.cert.Expired(now) }

// Certificate returns a copy of the signed certificate.
func (c *Credential) Certificate() (*threshold.Certificate, error) {
	if !c.Signed() {
		return nil, ErrUnsigned
	}
	cert := c.cert
	return &cert, nil
}

// PrivateKey returns the session private key.
func (c *Credential) PrivateKey() *ec.PrivateKey { return c.priv }
