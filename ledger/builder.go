package ledger

import (
	"fmt"
	"time"
)

// DefaultGasBudget is applied to transactions built without an explicit budget.
const DefaultGasBudget uint64 = 50_000_000

// GrantSpec is one address → expiry entry. ExpiresAt is ledger milliseconds;
// NeverExpires (0) means the grant does not expire.
type GrantSpec struct {
	Address   string
	ExpiresAt uint64
}

// CreateRequest describes a new capability.
type CreateRequest struct {
	BlobReference      string
	EncryptionIdentity []byte
	IsPublic           bool
	Grants             []GrantSpec
}

// Validate checks the request without touching the ledger.
func (r *CreateRequest) Validate() error {
	if r.BlobReference == "" {
		return fmt.Errorf("%w: empty blob reference", ErrInvalidArgument)
	}
	if len(r.EncryptionIdentity) != 32 {
		return fmt.Errorf("%w: encryption identity must be 32 bytes, got %d",
			ErrInvalidArgument, len(r.EncryptionIdentity))
	}
	for i, g := range r.Grants {
		if _, err := NormalizeAddress(g.Address); err != nil {
			return fmt.Errorf("%w: grant %d: %w", ErrInvalidArgument, i, err)
		}
	}
	return nil
}

// Builder constructs capability transactions for one deployed package.
// All Build methods are pure; nothing reaches the ledger until the result is
// submitted through a Service.
type Builder struct {
	packageID string
	clockID   string
}

// NewBuilder returns a Builder for packageID, reading time from the standard
// clock object.
func NewBuilder(packageID string) (*Builder, error) {
	pkg, err := NormalizeAddress(packageID)
	if err != nil {
		return nil, fmt.Errorf("ledger: package id: %w", err)
	}
	return &Builder{packageID: pkg, clockID: ClockObjectID}, nil
}

// WithClock returns a copy of b that reads time from clockID.
func (b *Builder) WithClock(clockID string) (*Builder, error) {
	id, err := NormalizeAddress(clockID)
	if err != nil {
		return nil, fmt.Errorf("ledger: clock id: %w", err)
	}
	return &Builder{packageID: b.packageID, clockID: id}, nil
}

// PackageID returns the canonical package id.
func (b *Builder) PackageID() string { return b.packageID }

// CapabilityType returns the fully qualified capability object type.
func (b *Builder) CapabilityType() string { return CapabilityType(b.packageID) }

func (b *Builder) call(fn string, args ...Argument) Command {
	return Command{Package: b.packageID, Module: ModuleName, Function: fn, Args: args}
}

func (b *Builder) clock() Argument {
	return ObjectArg(ObjectRef{ID: b.clockID}, false)
}

func (b *Builder) tx(cmds ...Command) *Transaction {
	return &Transaction{GasBudget: DefaultGasBudget, Commands: cmds}
}

// BuildCreateAndShare creates the capability, applies every initial grant and
// shares the object in one command, so the whole setup costs the uploader a
// single approval. Grants are a mapping: a repeated address keeps its last expiry.
func (b *Builder) BuildCreateAndShare(req CreateRequest) (*Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	addrs := make([]string, len(req.Grants))
	expiries := make([]uint64, len(req.Grants))
	for i, g := range req.Grants {
		addrs[i] = g.Address
		expiries[i] = g.ExpiresAt
	}
	addrArg, err := PureAddressVector(addrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return b.tx(b.call(FnCreateAndShare,
		PureString(req.BlobReference),
		PureBytes(req.EncryptionIdentity),
		PureBool(req.IsPublic),
		addrArg,
		PureU64Vector(expiries),
		b.clock(),
	)), nil
}

// BuildGrant upserts one grant. ref.Version should be the version the caller
// read; the ledger rejects the transaction with ErrConflict if it is stale.
func (b *Builder) BuildGrant(ref ObjectRef, address string, expiresAt uint64) (*Transaction, error) {
	addr, err := PureAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := NormalizeAddress(ref.ID); err != nil {
		return nil, fmt.Errorf("%w: capability: %w", ErrInvalidArgument, err)
	}
	return b.tx(b.call(FnGrant, ObjectArg(ref, true), addr, PureU64(expiresAt), b.clock())), nil
}

// BuildRevoke deletes one grant. Revoking an absent grant is a no-op on the ledger.
func (b *Builder) BuildRevoke(ref ObjectRef, address string) (*Transaction, error) {
	addr, err := PureAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := NormalizeAddress(ref.ID); err != nil {
		return nil, fmt.Errorf("%w: capability: %w", ErrInvalidArgument, err)
	}
	return b.tx(b.call(FnRevoke, ObjectArg(ref, true), addr)), nil
}

// BuildApprovalProbe builds the read-only can_download check for address.
func (b *Builder) BuildApprovalProbe(capabilityID, address string) (*Transaction, error) {
	addr, err := PureAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := NormalizeAddress(capabilityID); err != nil {
		return nil, fmt.Errorf("%w: capability: %w", ErrInvalidArgument, err)
	}
	return b.tx(b.call(FnCanDownload, ObjectArg(ObjectRef{ID: capabilityID}, false), addr, b.clock())), nil
}

// BuildDecryptionApproval returns the transaction-kind bytes of a
// seal_approve call for the threshold network. identity must equal the
// capability's stored encryption identity byte for byte.
func (b *Builder) BuildDecryptionApproval(capabilityID string, identity []byte) ([]byte, error) {
	if len(identity) != 32 {
		return nil, fmt.Errorf("%w: encryption identity must be 32 bytes, got %d",
			ErrInvalidArgument, len(identity))
	}
	if _, err := NormalizeAddress(capabilityID); err != nil {
		return nil, fmt.Errorf("%w: capability: %w", ErrInvalidArgument, err)
	}
	tx := b.tx(b.call(FnApprove, PureBytes(identity), ObjectArg(ObjectRef{ID: capabilityID}, false), b.clock()))
	return tx.EncodeKind()
}

// BuildSetBlobReference builds the one-time administrative override of the
// blob reference.
func (b *Builder) BuildSetBlobReference(ref ObjectRef, blobReference string) (*Transaction, error) {
	if blobReference == "" {
		return nil, fmt.Errorf("%w: empty blob reference", ErrInvalidArgument)
	}
	if _, err := NormalizeAddress(ref.ID); err != nil {
		return nil, fmt.Errorf("%w: capability: %w", ErrInvalidArgument, err)
	}
	return b.tx(b.call(FnSetBlobRef, ObjectArg(ref, true), PureString(blobReference))), nil
}

// BuildCreateAndTransfer creates a capability with no initial grants.
//
// Deprecated: Use BuildCreateAndShare.
func (b *Builder) BuildCreateAndTransfer(blobReference string, identity []byte, isPublic bool) (*Transaction, error) {
	return b.BuildCreateAndShare(CreateRequest{
		BlobReference:      blobReference,
		EncryptionIdentity: identity,
		IsPublic:           isPublic,
	})
}

// BuildCreateWithGrants creates a capability from parallel address and
// duration lists. A zero duration means the grant never expires.
//
// Deprecated: Use BuildCreateAndShare.
func (b *Builder) BuildCreateWithGrants(blobReference string, identity []byte, isPublic bool,
	addresses []string, durations []time.Duration, now time.Time) (*Transaction, error) {
	if len(addresses) != len(durations) {
		return nil, fmt.Errorf("%w: %d addresses but %d durations",
			ErrInvalidArgument, len(addresses), len(durations))
	}
	grants := make([]GrantSpec, len(addresses))
	for i, a := range addresses {
		grants[i] = GrantSpec{Address: a}
		if durations[i] > 0 {
			grants[i].ExpiresAt = Millis(now.Add(durations[i]))
		}
	}
	return b.BuildCreateAndShare(CreateRequest{
		BlobReference:      blobReference,
		EncryptionIdentity: identity,
		IsPublic:           isPublic,
		Grants:             grants,
	})
}
