package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTx(t *testing.T) *Transaction {
	t.Helper()
	b := newTestBuilder(t)
	tx, err := b.BuildCreateAndShare(CreateRequest{
		BlobReference:      "walrus-blob-id",
		EncryptionIdentity: testIdentity,
		IsPublic:           true,
		Grants:             []GrantSpec{{Address: addrB, ExpiresAt: 99}},
	})
	require.NoError(t, err)
	return tx
}

func TestEncodeDecodeKind(t *testing.T) {
	tx := sampleTx(t)
	raw, err := tx.EncodeKind()
	require.NoError(t, err)

	back, err := DecodeKind(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Commands, back.Commands)
	assert.Empty(t, back.Sender)
}

func TestEncodeDecodeFull(t *testing.T) {
	tx := sampleTx(t)
	tx.Sender = addrC

	raw, err := tx.Encode()
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, addrC, back.Sender)
	assert.Equal(t, DefaultGasBudget, back.GasBudget)
	assert.Equal(t, tx.Commands, back.Commands)
}

func TestEncodeRequiresSender(t *testing.T) {
	tx := sampleTx(t)
	_, err := tx.Encode()
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestDecodeRejectsTruncatedAndTrailing(t *testing.T) {
	raw, err := sampleTx(t).EncodeKind()
	require.NoError(t, err)

	for i := 0; i < len(raw); i++ {
		_, err := DecodeKind(raw[:i])
		assert.ErrorIs(t, err, ErrInvalidTransaction, "prefix of %d bytes", i)
	}

	_, err = DecodeKind(append(append([]byte(nil), raw...), 0x00))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidTransaction, "kind bytes are not a full transaction")
}

func TestPureDecodersRejectWrongShapes(t *testing.T) {
	_, err := DecodePureBool(PureU64(1))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = DecodePureU64(PureBool(true))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = DecodePureAddress(PureString("x"))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = DecodePureBytes(ObjectArg(ObjectRef{ID: testCap}, false))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = DecodePureU64Vector(Argument{Kind: ArgPure, Pure: []byte{2, 1, 2, 3}})
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = DecodePureAddressVector(Argument{Kind: ArgPure, Pure: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}})
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func FuzzDecodeKind(f *testing.F) {
	b, _ := NewBuilder(testPackage)
	tx, _ := b.BuildGrant(ObjectRef{ID: testCap, Version: 1}, addrB, 5)
	raw, _ := tx.EncodeKind()
	f.Add(raw)
	f.Add([]byte("GTK\x01"))

	f.Fuzz(func(t *testing.T, data []byte) {
		tx, err := DecodeKind(data)
		if err != nil {
			return
		}
		// Anything that decodes must re-encode and decode to the same commands.
		again, err := tx.EncodeKind()
		require.NoError(t, err)
		back, err := DecodeKind(again)
		require.NoError(t, err)
		assert.Equal(t, len(tx.Commands), len(back.Commands))
	})
}
