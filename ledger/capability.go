// Package ledger models the on-ledger capability object, builds the
// programmable transactions that create, grant, revoke and check it, and
// defines the Service boundary through which those transactions are
// inspected, executed and confirmed.
package ledger

import (
	"bytes"
	"time"
)

const (
	// ModuleName is the on-ledger module that owns the capability type.
	ModuleName = "access_grant"

	// CapabilityTypeName is the struct name of the capability object.
	CapabilityTypeName = "FileAccess"

	FnCreateAndShare = "create_with_access_and_share"
	FnGrant          = "grant_access"
	FnRevoke         = "revoke_access"
	FnCanDownload    = "can_download"
	FnApprove        = "seal_approve"
	FnSetBlobRef     = "set_file_id"

	// NeverExpires is the grant expiry sentinel.
	NeverExpires uint64 = 0
)

// ClockObjectID is the shared clock object read by time-dependent calls.
var ClockObjectID = mustNormalize("0x6")

// ObjectRef points at a specific version of an object. A zero Version means
// the reader did not observe a version and accepts whatever is current.
type ObjectRef struct {
	ID      string
	Version uint64
}

// Capability is the on-ledger record defining who may download one encrypted
// file and until when.
type Capability struct {
	ID                 string            `json:"id"`
	Owner              string            `json:"owner"`
	BlobReference      string            `json:"blob_reference"`
	EncryptionIdentity []byte            `json:"encryption_identity"`
	IsPublic           bool              `json:"is_public"`
	Grants             map[string]uint64 `json:"grants"`
	Shared             bool              `json:"shared"`
	BlobOverridden     bool              `json:"blob_overridden"`
	CreatedAt          uint64            `json:"created_at"`
	Version            uint64            `json:"version"`
}

// Ref returns a reference to the capability at its current version.
func (c *Capability) Ref() ObjectRef {
	return ObjectRef{ID: c.ID, Version: c.Version}
}

// CanDownload reports whether address may download at ledger time nowMs:
// the capability is public, or a grant for address exists that never expires
// or expires strictly after nowMs.
func (c *Capability) CanDownload(address string, nowMs uint64) bool {
	if c.IsPublic {
		return true
	}
	addr, err := NormalizeAddress(address)
	if err != nil {
		return false
	}
	exp, ok := c.Grants[addr]
	if !ok {
		return false
	}
	return exp == NeverExpires || nowMs < exp
}

// Approve is the predicate consulted by the threshold network: the identity
// must match byte for byte and address must be able to download.
func (c *Capability) Approve(id []byte, address string, nowMs uint64) bool {
	if !bytes.Equal(id, c.EncryptionIdentity) {
		return false
	}
	return c.CanDownload(address, nowMs)
}

// Clone returns a deep copy.
func (c *Capability) Clone() *Capability {
	cp := *c
	cp.EncryptionIdentity = append([]byte(nil), c.EncryptionIdentity...)
	cp.Grants = make(map[string]uint64, len(c.Grants))
	for k, v := range c.Grants {
		cp.Grants[k] = v
	}
	return &cp
}

// Millis converts t to ledger milliseconds.
func Millis(t time.Time) uint64 {
	if t.IsZero() || t.UnixMilli() < 0 {
		return 0
	}
	return uint64(t.UnixMilli())
}

// CapabilityType returns the fully qualified object type for packageID.
func CapabilityType(packageID string) string {
	return packageID + "::" + ModuleName + "::" + CapabilityTypeName
}
