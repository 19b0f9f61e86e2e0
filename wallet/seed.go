// Package wallet holds actor keys: BIP39 mnemonics, BIP32 derivation of
// ledger accounts, address derivation and intent-scoped signatures.
//
// Key hierarchy: m/44'/784'/{account}'/0'/0'
package wallet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"
)

const (
	// Mnemonic entropy sizes.
	Mnemonic12Words = 128
	Mnemonic24Words = 256

	// Argon2id parameters for keystore sealing.
	Argon2Time        = 3
	Argon2Memory      = 64 * 1024 // 64 MB
	Argon2Parallelism = 4
	Argon2KeyLen      = 32

	SaltLen  = 16
	NonceLen = 12
)

// keystoreMagic prefixes every sealed keystore and is bound as GCM additional data.
var keystoreMagic = []byte("GKS\x01")

// GenerateMnemonic creates a new BIP39 mnemonic with the given entropy bits.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("wallet: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic derives the 64-byte BIP39 seed. passphrase may be empty.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// SealKeystore encrypts seed under passphrase.
//
// Layout: magic(4B) || salt(16B) || nonce(12B) || AES-256-GCM(key, nonce, seed, aad=magic)
// with key = argon2id(passphrase, salt).
func SealKeystore(seed []byte, passphrase string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: generate salt: %w", err)
	}
	gcm, err := keystoreCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: generate nonce: %w", err)
	}

	out := make([]byte, 0, len(keystoreMagic)+SaltLen+NonceLen+len(seed)+gcm.Overhead())
	out = append(out, keystoreMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, seed, keystoreMagic), nil
}

// OpenKeystore reverses SealKeystore.
func OpenKeystore(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < len(keystoreMagic) {
		return nil, ErrKeystoreLocked
	}
	if !bytes.Equal(sealed[:len(keystoreMagic)], keystoreMagic) {
		return nil, ErrUnknownKeystoreVersion
	}
	body := sealed[len(keystoreMagic):]
	if len(body) < SaltLen+NonceLen {
		return nil, ErrKeystoreLocked
	}

	gcm, err := keystoreCipher(passphrase, body[:SaltLen])
	if err != nil {
		return nil, ErrKeystoreLocked
	}
	seed, err := gcm.Open(nil, body[SaltLen:SaltLen+NonceLen], body[SaltLen+NonceLen:], keystoreMagic)
	if err != nil || len(seed) == 0 {
		return nil, ErrKeystoreLocked
	}
	return seed, nil
}

// WriteKeystore seals seed and writes it to path with owner-only permissions.
func WriteKeystore(path string, seed []byte, passphrase string) error {
	sealed, err := SealKeystore(seed, passphrase)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("wallet: create keystore directory: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("wallet: write keystore: %w", err)
	}
	return nil
}

// ReadKeystore reads and opens the keystore at path.
func ReadKeystore(path, passphrase string) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read keystore: %w", err)
	}
	return OpenKeystore(sealed, passphrase)
}

func keystoreCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wallet: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: GCM creation failed: %w", err)
	}
	return gcm, nil
}
