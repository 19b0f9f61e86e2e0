package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/ledger"
)

// Config configures a Manager.
type Config struct {
	Builder   *ledger.Builder
	Store     blobstore.Store
	Decrypter Decrypter
	// TTL of issued credentials. Zero means DefaultTTL.
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Target identifies what to decrypt: the capability and the fields of it the
// session needs.
type Target struct {
	CapabilityID       string
	BlobReference      string
	EncryptionIdentity []byte
}

// TargetOf returns the Target for a capability object.
func TargetOf(c *ledger.Capability) Target {
	return Target{
		CapabilityID:       c.ID,
		BlobReference:      c.BlobReference,
		EncryptionIdentity: c.EncryptionIdentity,
	}
}

// Manager runs sessions and keeps one signed credential per address in
// memory so a credential is reused until it expires.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	creds map[string]*Credential
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Builder == nil || cfg.Store == nil || cfg.Decrypter == nil {
		return nil, fmt.Errorf("%w: builder, store and decrypter are required", ErrInvalidConfig)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < time.Minute {
		return nil, fmt.Errorf("%w: ttl %s is under one minute", ErrInvalidConfig, cfg.TTL)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger, creds: make(map[string]*Credential)}, nil
}

// Decrypt runs a full session for signer against target and returns the
// plaintext. A cached credential for signer's address is reused while valid;
// otherwise a new one is issued and signed. Failures are *Failure values.
func (m *Manager) Decrypt(ctx context.Context, signer MessageSigner, target Target) ([]byte, error) {
	ready, err := m.ready(signer)
	if err != nil {
		return nil, err
	}
	log := m.logger.With(zap.String("address", ready.Credential().Address()),
		zap.String("capability", target.CapabilityID))

	fetched, err := ready.Fetch(ctx, m.cfg.Store, target.BlobReference)
	if err != nil {
		log.Debug("session failed", zap.Error(err))
		return nil, err
	}
	log.Debug("session fetched payload")

	approving, err := fetched.Approve(m.cfg.Builder, target.CapabilityID, target.EncryptionIdentity)
	if err != nil {
		return nil, err
	}
	done, err := approving.Decrypt(ctx, m.cfg.Decrypter)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Reason == SessionExpired {
			m.Forget(ready.Credential().Address())
		}
		log.Debug("session failed", zap.Error(err))
		return nil, err
	}
	log.Debug("session decrypted")
	return done.Plaintext, nil
}

// ready returns a Ready state for signer, from cache or by issuing and
// signing a new credential.
func (m *Manager) ready(signer MessageSigner) (*Ready, error) {
	addr, err := ledger.NormalizeAddress(signer.Address())
	if err != nil {
		return nil, fmt.Errorf("session: signer address: %w", err)
	}

	m.mu.Lock()
	cred := m.creds[addr]
	if cred != nil && cred.Expired(m.cfg.Now()) {
		delete(m.creds, addr)
		cred = nil
	}
	m.mu.Unlock()
	if cred != nil {
		return Resume(cred)
	}

	awaiting, err := Uninitialized{
		PackageID: m.cfg.Builder.PackageID(),
		TTL:       m.cfg.TTL,
		Now:       m.cfg.Now,
	}.Issue(addr)
	if err != nil {
		return nil, err
	}
	ready, err := awaiting.Sign(signer)
	if err != nil {
		m.logger.Info("session signature refused", zap.String("address", addr), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.creds[addr] = ready.Credential()
	m.mu.Unlock()
	m.logger.Debug("session credential issued",
		zap.String("address", addr),
		zap.Time("expires_at", ready.Credential().ExpiresAt()))
	return ready, nil
}

// Forget drops the cached credential for address.
func (m *Manager) Forget(address string) {
	addr, err := ledger.NormalizeAddress(address)
	if err != nil {
		return
	}
	m.mu.Lock()
	delete(m.creds, addr)
	m.mu.Unlock()
}

// Cached returns the cached, unexpired credential for address.
func (m *Manager) Cached(address string) (*Credential, bool) {
	addr, err := ledger.NormalizeAddress(address)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[addr]
	if !ok || c.Expired(m.cfg.Now()) {
		return nil, false
	}
	return c, true
}
