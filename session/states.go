// Package session runs one threshold decryption as a sequence of states:
//
//	Uninitialized → AwaitingSignature → Ready → Fetched → Approving → Decrypted
//
// Each state type has exactly one transition method, which returns the next
// state or a terminal *Failure. Decryption before a signature, or approval
// before a fetch, cannot be expressed.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/threshold"
	"github.com/bitfsorg/libgrant-go/wallet"
)

// MessageSigner signs the session challenge for one address.
type MessageSigner interface {
	Address() string
	SignPersonalMessage(msg []byte) ([]byte, error)
}

// Decrypter is the threshold network client.
type Decrypter interface {
	Decrypt(ctx context.Context, encrypted []byte, sk threshold.SessionKey, approval []byte) ([]byte, error)
}

// State names used in Failure.State.
const (
	StateUninitialized     = "Uninitialized"
	StateAwaitingSignature = "AwaitingSignature"
	StateReady             = "Ready"
	StateFetched           = "Fetched"
	StateApproving         = "Approving"
)

// Uninitialized issues a new credential.
type Uninitialized struct {
	PackageID string
	TTL       time.Duration
	Now       func() time.Time
}

// Issue creates an unsigned credential bound to address.
func (s Uninitialized) Issue(address string) (*AwaitingSignature, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ttl := s.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < time.Minute {
		return nil, fmt.Errorf("%w: ttl %s is under one minute", ErrInvalidConfig, ttl)
	}
	pkg, err := ledger.NormalizeAddress(s.PackageID)
	if err != nil {
		return nil, fmt.Errorf("%w: package id: %w", ErrInvalidConfig, err)
	}
	cred, err := newCredential(address, pkg, ttl, now())
	if err != nil {
		return nil, err
	}
	return &AwaitingSignature{cred: cred}, nil
}

// AwaitingSignature holds a credential waiting for the actor's signature.
type AwaitingSignature struct {
	cred *Credential
}

// Challenge returns the message presented to the actor.
func (s *AwaitingSignature) Challenge() []byte { return s.cred.Challenge() }

// Sign asks signer to sign the challenge. A refusal is terminal.
func (s *AwaitingSignature) Sign(signer MessageSigner) (*Ready, error) {
	if !equalAddress(signer.Address(), s.cred.Address()) {
		return nil, fail(UserRejected, StateAwaitingSignature,
			fmt.Errorf("signer %s is not %s: %w", signer.Address(), s.cred.Address(), wallet.ErrAddressMismatch))
	}
	sig, err := signer.SignPersonalMessage(s.cred.Challenge())
	if err != nil {
		return nil, fail(UserRejected, StateAwaitingSignature, err)
	}
	if err := wallet.VerifyPersonalMessage(s.cred.Challenge(), sig, s.cred.Address()); err != nil {
		return nil, fail(UserRejected, StateAwaitingSignature, err)
	}
	s.cred.cert.Signature = sig
	return &Ready{cred: s.cred}, nil
}

// Ready holds a signed credential.
type Ready struct {
	cred *Credential
}

// Resume continues from a previously signed credential, which lets one
// credential serve several decryptions within its TTL.
func Resume(cred *Credential) (*Ready, error) {
	if cred == nil || !cred.Signed() {
		return nil, ErrUnsigned
	}
	return &Ready{cred: cred}, nil
}

// Credential returns the signed credential.
func (s *Ready) Credential() *Credential { return s.cred }

// Fetch reads the encrypted payload from store.
func (s *Ready) Fetch(ctx context.Context, store blobstore.Store, blobRef string) (*Fetched, error) {
	data, err := store.Get(ctx, blobRef)
	if err != nil {
		return nil, fail(FetchError, StateReady, err)
	}
	return &Fetched{cred: s.cred, encrypted: data}, nil
}

// Fetched holds the encrypted payload.
type Fetched struct {
	cred      *Credential
	encrypted []byte
}

// Approve builds the seal_approve payload for the capability's identity.
func (s *Fetched) Approve(builder *ledger.Builder, capabilityID string, identity []byte) (*Approving, error) {
	approval, err := builder.BuildDecryptionApproval(capabilityID, identity)
	if err != nil {
		return nil, fail(AccessDenied, StateFetched, err)
	}
	return &Approving{cred: s.cred, encrypted: s.encrypted, approval: approval}, nil
}

// Approving holds everything the threshold network needs.
type Approving struct {
	cred      *Credential
	encrypted []byte
	approval  []byte
}

// Decrypt submits the request to the threshold network.
func (s *Approving) Decrypt(ctx context.Context, d Decrypter) (*Decrypted, error) {
	pt, err := d.Decrypt(ctx, s.encrypted, s.cred, s.approval)
	if err != nil {
		if errors.Is(err, threshold.ErrSessionExpired) {
			return nil, fail(SessionExpired, StateApproving, err)
		}
		return nil, fail(AccessDenied, StateApproving, err)
	}
	return &Decrypted{Plaintext: pt, Credential: s.cred}, nil
}

// Decrypted is terminal success.
type Decrypted struct {
	Plaintext  []byte
	Credential *Credential
}

func equalAddress(a, b string) bool {
	na, err := ledger.NormalizeAddress(a)
	if err != nil {
		return false
	}
	return na == b
}
