// Package threshold implements identity-bound t-of-n encryption and the key
// server protocol that releases shares only to sessions whose approval
// transaction passes on the ledger.
//
// Encrypt picks a random scalar, splits it with Shamir sharing and seals each
// share to one key server with ECDH. The payload key is derived from the
// scalar with HKDF and bound to the package and identity through AES-GCM
// associated data. Decryption collects at least threshold shares, each
// re-sealed by its server to the caller's session key.
package threshold

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/share"
	"golang.org/x/crypto/hkdf"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// HKDF info strings.
const (
	infoPayloadKey = "grant-threshold-payload"
	infoShareWrap  = "grant-threshold-share-wrap"
	infoRelease    = "grant-threshold-share-release"
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

// ServerInfo identifies one key server to encrypt for.
type ServerInfo struct {
	ObjectID  string
	PublicKey *ec.PublicKey
	URL       string
}

// Encrypt seals data so that any threshold of servers can jointly release the
// key to an approved session. identity must be 32 bytes and is recorded in
// the object in the clear.
func Encrypt(data, identity []byte, threshold int, packageID string, servers []ServerInfo) ([]byte, error) {
	if len(identity) != 32 {
		return nil, ErrInvalidIdentity
	}
	if threshold < 1 || threshold > len(servers) || len(servers) > 255 {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(servers))
	}
	pkg, err := ledger.NormalizeAddress(packageID)
	if err != nil {
		return nil, fmt.Errorf("threshold: package id: %w", err)
	}

	secret := suite.Scalar().Pick(suite.RandomStream())
	key, err := payloadKey(secret, identity)
	if err != nil {
		return nil, err
	}
	ct, err := seal(key, data, payloadAAD(pkg, identity))
	if err != nil {
		return nil, err
	}

	poly := share.NewPriPoly(suite, threshold, secret, suite.RandomStream())
	priShares := poly.Shares(len(servers))

	obj := &EncryptedObject{
		PackageID:  pkg,
		Identity:   append([]byte(nil), identity...),
		Threshold:  threshold,
		Ciphertext: ct,
	}
	for i, srv := range servers {
		id, err := ledger.NormalizeAddress(srv.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("threshold: server %d: %w", i, err)
		}
		if srv.PublicKey == nil {
			return nil, fmt.Errorf("threshold: server %s: nil public key", id)
		}
		raw, err := priShares[i].V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("threshold: marshal share: %w", err)
		}
		eph, sealed, err := sealTo(srv.PublicKey, raw, identity, infoShareWrap, shareAAD(id, identity, uint16(priShares[i].I)))
		if err != nil {
			return nil, err
		}
		obj.Shares = append(obj.Shares, EncryptedShare{
			ServerID:   id,
			Index:      uint16(priShares[i].I),
			Ephemeral:  eph,
			Ciphertext: sealed,
		})
	}
	return obj.Marshal()
}

// combine recovers the payload from at least obj.Threshold plaintext shares.
func combine(obj *EncryptedObject, shares []*share.PriShare) ([]byte, error) {
	secret, err := share.RecoverSecret(suite, shares, obj.Threshold, len(obj.Shares))
	if err != nil {
		return nil, fmt.Errorf("%w: recover secret: %w", ErrDecryption, err)
	}
	key, err := payloadKey(secret, obj.Identity)
	if err != nil {
		return nil, err
	}
	pt, err := open(key, obj.Ciphertext, payloadAAD(obj.PackageID, obj.Identity))
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func decodeScalar(b []byte) (kyber.Scalar, error) {
	s := suite.Scalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: share scalar: %w", ErrDecryption, err)
	}
	return s, nil
}

func payloadKey(secret kyber.Scalar, identity []byte) ([]byte, error) {
	raw, err := secret.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("threshold: marshal secret: %w", err)
	}
	return deriveKey(raw, identity, infoPayloadKey)
}

func payloadAAD(packageID string, identity []byte) []byte {
	pkg, _ := ledger.AddressBytes(packageID)
	return append(pkg[:], identity...)
}

func shareAAD(serverID string, identity []byte, index uint16) []byte {
	id, _ := ledger.AddressBytes(serverID)
	aad := append(id[:], identity...)
	return append(aad, byte(index>>8), byte(index))
}

// deriveKey runs HKDF-SHA256 with salt and info and returns a 32-byte key.
func deriveKey(ikm, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("threshold: hkdf: %w", err)
	}
	return key, nil
}

// ecdh returns the 32-byte x-coordinate of priv·pub.
func ecdh(priv *ec.PrivateKey, pub *ec.PublicKey) ([]byte, error) {
	p, err := priv.DeriveSharedSecret(pub)
	if err != nil {
		return nil, fmt.Errorf("threshold: ECDH: %w", err)
	}
	x := p.X.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(x):], x)
	return out, nil
}

// sealTo encrypts msg to pub under a fresh ephemeral key and returns the
// compressed ephemeral public key and the sealed bytes.
func sealTo(pub *ec.PublicKey, msg, salt []byte, info string, aad []byte) ([]byte, []byte, error) {
	eph, err := ec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("threshold: ephemeral key: %w", err)
	}
	shared, err := ecdh(eph, pub)
	if err != nil {
		return nil, nil, err
	}
	key, err := deriveKey(shared, salt, info)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := seal(key, msg, aad)
	if err != nil {
		return nil, nil, err
	}
	return eph.PubKey().Compressed(), sealed, nil
}

// openFrom reverses sealTo using the recipient's private key.
func openFrom(priv *ec.PrivateKey, ephemeral, sealed, salt []byte, info string, aad []byte) ([]byte, error) {
	eph, err := ec.PublicKeyFromBytes(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %w", ErrDecryption, err)
	}
	shared, err := ecdh(priv, eph)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(shared, salt, info)
	if err != nil {
		return nil, err
	}
	return open(key, sealed, aad)
}

// seal encrypts with AES-256-GCM and returns nonce || ciphertext || tag.
func seal(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("threshold: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("threshold: GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("threshold: random nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("threshold: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("threshold: GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	n := gcm.NonceSize()
	pt, err := gcm.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return pt, nil
}
