package ledger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPackage = "0x462708965638752db291d4a6809a5f43a95da2f77f926bb28cf20dd9cb261e31"
	testCap     = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	addrB       = "0x000000000000000000000000000000000000000000000000000000000000000b"
	addrC       = "0x000000000000000000000000000000000000000000000000000000000000000c"
)

var testIdentity = bytes.Repeat([]byte{0x42}, 32)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(testPackage)
	require.NoError(t, err)
	return b
}

// --- Create tests ---

func TestBuildCreateAndShare(t *testing.T) {
	b := newTestBuilder(t)

	for _, n := range []int{0, 1, 5} {
		grants := make([]GrantSpec, n)
		for i := range grants {
			grants[i] = GrantSpec{Address: FormatAddress([32]byte{31: byte(i + 1)}), ExpiresAt: uint64(1000 * i)}
		}

		tx, err := b.BuildCreateAndShare(CreateRequest{
			BlobReference:      "blob-1",
			EncryptionIdentity: testIdentity,
			IsPublic:           false,
			Grants:             grants,
		})
		require.NoError(t, err)
		require.Len(t, tx.Commands, 1, "creation must be a single command")

		cmd := tx.Commands[0]
		assert.Equal(t, testPackage+"::access_grant::create_with_access_and_share", cmd.Target())
		require.Len(t, cmd.Args, 6)

		blob, err := DecodePureString(cmd.Args[0])
		require.NoError(t, err)
		assert.Equal(t, "blob-1", blob)

		id, err := DecodePureBytes(cmd.Args[1])
		require.NoError(t, err)
		assert.Equal(t, testIdentity, id)

		public, err := DecodePureBool(cmd.Args[2])
		require.NoError(t, err)
		assert.False(t, public)

		addrs, err := DecodePureAddressVector(cmd.Args[3])
		require.NoError(t, err)
		exps, err := DecodePureU64Vector(cmd.Args[4])
		require.NoError(t, err)
		assert.Len(t, addrs, n)
		assert.Len(t, exps, n)
		for i := range grants {
			assert.Equal(t, grants[i].Address, addrs[i])
			assert.Equal(t, grants[i].ExpiresAt, exps[i])
		}

		assert.Equal(t, ArgObject, cmd.Args[5].Kind)
		assert.Equal(t, ClockObjectID, cmd.Args[5].Object.ID)
	}
}

func TestBuildCreateAndShare_Validation(t *testing.T) {
	b := newTestBuilder(t)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty blob", CreateRequest{EncryptionIdentity: testIdentity}},
		{"short identity", CreateRequest{BlobReference: "x", EncryptionIdentity: []byte{1, 2}}},
		{"bad grant address", CreateRequest{BlobReference: "x", EncryptionIdentity: testIdentity,
			Grants: []GrantSpec{{Address: "0xnothex"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.BuildCreateAndShare(tt.req)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestDeprecatedAdaptersDelegate(t *testing.T) {
	b := newTestBuilder(t)
	now := time.UnixMilli(1_700_000_000_000)

	legacy, err := b.BuildCreateAndTransfer("blob", testIdentity, true)
	require.NoError(t, err)
	direct, err := b.BuildCreateAndShare(CreateRequest{BlobReference: "blob", EncryptionIdentity: testIdentity, IsPublic: true})
	require.NoError(t, err)
	assert.Equal(t, direct, legacy)

	withGrants, err := b.BuildCreateWithGrants("blob", testIdentity, false,
		[]string{addrB, addrC}, []time.Duration{10 * time.Minute, 0}, now)
	require.NoError(t, err)
	exps, err := DecodePureU64Vector(withGrants.Commands[0].Args[4])
	require.NoError(t, err)
	assert.Equal(t, []uint64{Millis(now.Add(10 * time.Minute)), NeverExpires}, exps)

	_, err = b.BuildCreateWithGrants("blob", testIdentity, false, []string{addrB}, nil, now)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// --- Grant / revoke tests ---

func TestBuildGrant(t *testing.T) {
	b := newTestBuilder(t)
	tx, err := b.BuildGrant(ObjectRef{ID: testCap, Version: 7}, addrB, 12345)
	require.NoError(t, err)
	require.Len(t, tx.Commands, 1)

	cmd := tx.Commands[0]
	assert.Equal(t, FnGrant, cmd.Function)
	assert.Equal(t, ObjectRef{ID: testCap, Version: 7}, cmd.Args[0].Object)
	assert.True(t, cmd.Args[0].Mutable)

	addr, err := DecodePureAddress(cmd.Args[1])
	require.NoError(t, err)
	assert.Equal(t, addrB, addr)

	exp, err := DecodePureU64(cmd.Args[2])
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), exp)

	_, err = b.BuildGrant(ObjectRef{ID: testCap}, "zz", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRevoke(t *testing.T) {
	b := newTestBuilder(t)
	tx, err := b.BuildRevoke(ObjectRef{ID: testCap, Version: 3}, addrC)
	require.NoError(t, err)
	cmd := tx.Commands[0]
	assert.Equal(t, FnRevoke, cmd.Function)
	require.Len(t, cmd.Args, 2)
}

// --- Probe / approval tests ---

func TestBuildApprovalProbe(t *testing.T) {
	b := newTestBuilder(t)
	tx, err := b.BuildApprovalProbe(testCap, addrB)
	require.NoError(t, err)
	cmd := tx.Commands[0]
	assert.Equal(t, FnCanDownload, cmd.Function)
	assert.False(t, cmd.Args[0].Mutable)
	assert.Equal(t, ClockObjectID, cmd.Args[2].Object.ID)
}

func TestBuildDecryptionApproval(t *testing.T) {
	b := newTestBuilder(t)
	raw, err := b.BuildDecryptionApproval(testCap, testIdentity)
	require.NoError(t, err)

	tx, err := DecodeKind(raw)
	require.NoError(t, err)
	require.Len(t, tx.Commands, 1)
	cmd := tx.Commands[0]
	assert.Equal(t, FnApprove, cmd.Function)
	assert.Equal(t, testPackage, cmd.Package)

	id, err := DecodePureBytes(cmd.Args[0])
	require.NoError(t, err)
	assert.Equal(t, testIdentity, id)
	assert.Equal(t, testCap, cmd.Args[1].Object.ID)

	_, err = b.BuildDecryptionApproval(testCap, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildSetBlobReference(t *testing.T) {
	b := newTestBuilder(t)
	tx, err := b.BuildSetBlobReference(ObjectRef{ID: testCap}, "new-blob")
	require.NoError(t, err)
	ref, err := DecodePureString(tx.Commands[0].Args[1])
	require.NoError(t, err)
	assert.Equal(t, "new-blob", ref)

	_, err = b.BuildSetBlobReference(ObjectRef{ID: testCap}, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// --- Capability predicate tests ---

func TestCapabilityCanDownload(t *testing.T) {
	c := &Capability{
		EncryptionIdentity: testIdentity,
		Grants: map[string]uint64{
			addrB: 2000,
			addrC: NeverExpires,
		},
	}

	assert.True(t, c.CanDownload(addrB, 1999))
	assert.False(t, c.CanDownload(addrB, 2000), "expiry is exclusive")
	assert.True(t, c.CanDownload(addrC, 1<<62))
	assert.True(t, c.CanDownload(strings.ToUpper(addrC[2:]), 0), "address is normalized")
	assert.False(t, c.CanDownload(testCap, 0))
	assert.False(t, c.CanDownload("garbage", 0))

	c.IsPublic = true
	assert.True(t, c.CanDownload(testCap, 0))
}

func TestCapabilityApprove(t *testing.T) {
	c := &Capability{EncryptionIdentity: testIdentity, IsPublic: true}
	assert.True(t, c.Approve(testIdentity, addrB, 0))

	other := bytes.Repeat([]byte{0x43}, 32)
	assert.False(t, c.Approve(other, addrB, 0), "identity must match byte for byte")
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0x6")
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("0", 63)+"6", got)

	got, err = NormalizeAddress("0XABC")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "0abc"))

	for _, bad := range []string{"", "0x", "0xgg", "0x" + strings.Repeat("1", 65), "bad", "cafe", "deadbeef"} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestWithClock(t *testing.T) {
	b := newTestBuilder(t)
	custom, err := b.WithClock("0x7")
	require.NoError(t, err)
	tx, err := custom.BuildApprovalProbe(testCap, addrB)
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("0", 63)+"7", tx.Commands[0].Args[2].Object.ID)
	assert.Equal(t, b.PackageID(), custom.PackageID())

	tx, err = b.BuildApprovalProbe(testCap, addrB)
	require.NoError(t, err)
	assert.Equal(t, ClockObjectID, tx.Commands[0].Args[2].Object.ID, "original builder unchanged")

	_, err = b.WithClock("clock")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
