package wallet

import "errors"

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("wallet: invalid BIP39 mnemonic")

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = errors.New("wallet: entropy bits must be 128 or 256")

	// ErrInvalidSeed indicates the seed is empty or invalid.
	ErrInvalidSeed = errors.New("wallet: invalid seed")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("wallet: key derivation failed")

	// ErrKeystoreLocked indicates a wrong passphrase or corrupted keystore data.
	ErrKeystoreLocked = errors.New("wallet: keystore decryption failed (wrong passphrase or corrupted data)")

	// ErrUnknownKeystoreVersion indicates the keystore was written by an unsupported format.
	ErrUnknownKeystoreVersion = errors.New("wallet: unknown keystore version")

	// ErrInvalidSignature indicates a serialized signature could not be parsed or verified.
	ErrInvalidSignature = errors.New("wallet: invalid signature")

	// ErrAddressMismatch indicates a signature was produced by a key other than the claimed address.
	ErrAddressMismatch = errors.New("wallet: signer does not match address")

	// ErrRejected indicates the actor declined to sign.
	ErrRejected = errors.New("wallet: signature request rejected")

	// ErrNilKey indicates a nil key was supplied.
	ErrNilKey = errors.New("wallet: key must not be nil")
)
