package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// Grants changes who may download an existing capability. Each call reads
// the object's current version, so a concurrent change surfaces as
// ledger.ErrConflict.
type Grants struct {
	svc     ledger.Service
	builder *ledger.Builder
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewGrants creates a Grants manager. A nil now means time.Now and a zero
// ttl means DefaultGrantTTL.
func NewGrants(svc ledger.Service, builder *ledger.Builder, ttl time.Duration, now func() time.Time, logger *zap.Logger) *Grants {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grants{svc: svc, builder: builder, ttl: ttl, now: now, logger: logger}
}

// Grant upserts a grant for req.Address, signed by the capability owner.
func (g *Grants) Grant(ctx context.Context, signer ledger.Signer, capabilityID string, req GrantRequest) (*ledger.TxEffects, error) {
	exp, err := resolveExpiry(req, g.now(), g.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	c, err := g.svc.GetCapability(ctx, capabilityID)
	if err != nil {
		return nil, err
	}
	tx, err := g.builder.BuildGrant(c.Ref(), req.Address, exp)
	if err != nil {
		return nil, err
	}
	fx, err := ledger.Submit(ctx, g.svc, tx, signer)
	if err != nil {
		return nil, err
	}
	g.logger.Info("access granted",
		zap.String("capability", c.ID),
		zap.String("address", req.Address),
		zap.Uint64("expires_at", exp))
	return fx, nil
}

// Revoke deletes the grant for address. Revoking an absent grant succeeds.
func (g *Grants) Revoke(ctx context.Context, signer ledger.Signer, capabilityID, address string) (*ledger.TxEffects, error) {
	c, err := g.svc.GetCapability(ctx, capabilityID)
	if err != nil {
		return nil, err
	}
	tx, err := g.builder.BuildRevoke(c.Ref(), address)
	if err != nil {
		return nil, err
	}
	fx, err := ledger.Submit(ctx, g.svc, tx, signer)
	if err != nil {
		return nil, err
	}
	g.logger.Info("access revoked", zap.String("capability", c.ID), zap.String("address", address))
	return fx, nil
}

// SetBlobReference spends the capability's one-time blob reference override.
//
// Deprecated: blob references are fixed at creation. Only capabilities
// created before the reference was known need this.
func (g *Grants) SetBlobReference(ctx context.Context, signer ledger.Signer, capabilityID, blobReference string) (*ledger.TxEffects, error) {
	c, err := g.svc.GetCapability(ctx, capabilityID)
	if err != nil {
		return nil, err
	}
	tx, err := g.builder.BuildSetBlobReference(c.Ref(), blobReference)
	if err != nil {
		return nil, err
	}
	return ledger.Submit(ctx, g.svc, tx, signer)
}
