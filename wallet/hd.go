package wallet

import (
	"fmt"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

const (
	// BIP44 path constants.
	PurposeBIP44   = 44
	CoinTypeLedger = 784

	// BIP32 hardened offset.
	Hardened = 0x80000000
)

// Wallet derives actor accounts from a BIP39 seed.
type Wallet struct {
	masterKey *bip32.ExtendedKey
}

// New creates a Wallet from a BIP39 seed.
func New(seed []byte) (*Wallet, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	masterKey, err := bip32.NewMaster(seed, &chaincfg.MainNet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &Wallet{masterKey: masterKey}, nil
}

// FromMnemonic is shorthand for SeedFromMnemonic followed by New.
func FromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return New(seed)
}

// Actor derives the signing account at m/44'/784'/account'/0'/0'.
// Every level is hardened.
func (w *Wallet) Actor(account uint32) (*Actor, error) {
	if account >= Hardened {
		return nil, fmt.Errorf("%w: account index %d out of range", ErrDerivationFailed, account)
	}

	path := []uint32{PurposeBIP44, CoinTypeLedger, account, 0, 0}
	current := w.masterKey
	for depth, idx := range path {
		child, err := current.Child(idx + Hardened)
		if err != nil {
			return nil, fmt.Errorf("%w: depth %d: %w", ErrDerivationFailed, depth, err)
		}
		current = child
	}

	priv, err := current.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: extract EC private key: %w", ErrDerivationFailed, err)
	}

	a, err := NewActor(priv)
	if err != nil {
		return nil, err
	}
	a.path = fmt.Sprintf("m/%d'/%d'/%d'/0'/0'", PurposeBIP44, CoinTypeLedger, account)
	return a, nil
}
