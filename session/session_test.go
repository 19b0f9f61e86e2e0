package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/identity"
	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/localnet"
	"github.com/bitfsorg/libgrant-go/threshold"
	"github.com/bitfsorg/libgrant-go/wallet"
)

type world struct {
	node     *localnet.Node
	builder  *ledger.Builder
	store    *blobstore.LocalStore
	client   *threshold.Client
	servers  []threshold.ServerInfo
	owner    *wallet.Actor
	reader   *wallet.Actor
	stranger *wallet.Actor
	now      time.Time
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{now: time.UnixMilli(1_700_000_000_000)}
	clock := func() time.Time { return w.now }
	dir := t.TempDir()

	node, err := localnet.Open(filepath.Join(dir, "ledger.db"), localnet.Options{Now: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	w.node = node
	w.builder, err = ledger.NewBuilder(node.PackageID())
	require.NoError(t, err)
	w.store, err = blobstore.NewLocalStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	var clients []threshold.KeyServerClient
	for _, id := range []string{"0xa1", "0xa2", "0xa3"} {
		key, err := ec.NewPrivateKey()
		require.NoError(t, err)
		ks, err := threshold.NewKeyServer(threshold.KeyServerConfig{
			ObjectID: id, Key: key, PackageID: node.PackageID(), Ledger: node, Now: clock,
		})
		require.NoError(t, err)
		clients = append(clients, ks)
		w.servers = append(w.servers, ks.Info(""))
	}
	w.client, err = threshold.NewClient(clients, threshold.ClientOptions{Now: clock})
	require.NoError(t, err)

	for _, p := range []**wallet.Actor{&w.owner, &w.reader, &w.stranger} {
		*p, err = wallet.GenerateActor()
		require.NoError(t, err)
	}
	return w
}

// upload encrypts data, stores it and creates a capability granting reader.
func (w *world) upload(t *testing.T, data []byte) Target {
	t.Helper()
	ctx := context.Background()
	id, err := identity.Generate()
	require.NoError(t, err)
	enc, err := threshold.Encrypt(data, id.Bytes(), 2, w.node.PackageID(), w.servers)
	require.NoError(t, err)
	ref, err := w.store.Put(ctx, enc)
	require.NoError(t, err)

	tx, err := w.builder.BuildCreateAndShare(ledger.CreateRequest{
		BlobReference:      ref,
		EncryptionIdentity: id.Bytes(),
		Grants:             []ledger.GrantSpec{{Address: w.reader.Address()}},
	})
	require.NoError(t, err)
	fx, err := ledger.Submit(ctx, w.node, tx, w.owner)
	require.NoError(t, err)
	capID, err := ledger.ExtractCapabilityID(fx.ObjectChanges, w.builder.CapabilityType())
	require.NoError(t, err)
	c, err := w.node.GetCapability(ctx, capID)
	require.NoError(t, err)
	return TargetOf(c)
}

func (w *world) uninitialized() Uninitialized {
	return Uninitialized{PackageID: w.node.PackageID(), Now: func() time.Time { return w.now }}
}

func (w *world) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Builder:   w.builder,
		Store:     w.store,
		Decrypter: w.client,
		Now:       func() time.Time { return w.now },
	})
	require.NoError(t, err)
	return m
}

// countingSigner approves or refuses and counts prompts.
func countingSigner(a *wallet.Actor, approve bool, n *int) *wallet.PromptSigner {
	return &wallet.PromptSigner{Actor: a, Approve: func(wallet.Purpose, []byte) bool {
		*n++
		return approve
	}}
}

func requireFailure(t *testing.T, err error, reason Reason, state string) *Failure {
	t.Helper()
	var f *Failure
	require.True(t, errors.As(err, &f), "want *Failure, got %v", err)
	assert.Equal(t, reason, f.Reason)
	assert.Equal(t, state, f.State)
	return f
}

// --- State machine tests ---

func TestStates_HappyPath(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("quarterly numbers"))
	ctx := context.Background()

	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)
	assert.Contains(t, string(awaiting.Challenge()), "for 10 mins")

	ready, err := awaiting.Sign(w.reader)
	require.NoError(t, err)
	assert.True(t, ready.Credential().Signed())
	assert.Equal(t, w.now.Add(DefaultTTL), ready.Credential().ExpiresAt())

	fetched, err := ready.Fetch(ctx, w.store, target.BlobReference)
	require.NoError(t, err)
	approving, err := fetched.Approve(w.builder, target.CapabilityID, target.EncryptionIdentity)
	require.NoError(t, err)
	done, err := approving.Decrypt(ctx, w.client)
	require.NoError(t, err)
	assert.Equal(t, []byte("quarterly numbers"), done.Plaintext)
	assert.Same(t, ready.Credential(), done.Credential)
}

func TestStates_UserRejected(t *testing.T) {
	w := newWorld(t)
	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)

	prompts := 0
	_, err = awaiting.Sign(countingSigner(w.reader, false, &prompts))
	requireFailure(t, err, UserRejected, StateAwaitingSignature)
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.ErrorIs(t, err, wallet.ErrRejected)
	assert.Equal(t, 1, prompts)
}

func TestStates_WrongSigner(t *testing.T) {
	w := newWorld(t)
	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)

	_, err = awaiting.Sign(w.stranger)
	requireFailure(t, err, UserRejected, StateAwaitingSignature)
	assert.ErrorIs(t, err, wallet.ErrAddressMismatch)
}

func TestStates_FetchError(t *testing.T) {
	w := newWorld(t)
	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)
	ready, err := awaiting.Sign(w.reader)
	require.NoError(t, err)

	_, err = ready.Fetch(context.Background(), w.store, blobstore.LocalReference([]byte("never stored")))
	requireFailure(t, err, FetchError, StateReady)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStates_Denied(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("private"))
	ctx := context.Background()

	awaiting, err := w.uninitialized().Issue(w.stranger.Address())
	require.NoError(t, err)
	ready, err := awaiting.Sign(w.stranger)
	require.NoError(t, err)
	fetched, err := ready.Fetch(ctx, w.store, target.BlobReference)
	require.NoError(t, err)
	approving, err := fetched.Approve(w.builder, target.CapabilityID, target.EncryptionIdentity)
	require.NoError(t, err)

	_, err = approving.Decrypt(ctx, w.client)
	requireFailure(t, err, AccessDenied, StateApproving)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, err, threshold.ErrAccessDenied)
}

func TestStates_BadApprovalInput(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("x"))
	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)
	ready, err := awaiting.Sign(w.reader)
	require.NoError(t, err)
	fetched, err := ready.Fetch(context.Background(), w.store, target.BlobReference)
	require.NoError(t, err)

	_, err = fetched.Approve(w.builder, target.CapabilityID, []byte("short"))
	requireFailure(t, err, AccessDenied, StateFetched)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestSessionLifecycle_ExpiredCredential(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("x"))
	ctx := context.Background()

	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)
	ready, err := awaiting.Sign(w.reader)
	require.NoError(t, err)
	cred := ready.Credential()

	w.now = w.now.Add(DefaultTTL)
	assert.True(t, cred.Expired(w.now))

	ready, err = Resume(cred)
	require.NoError(t, err)
	fetched, err := ready.Fetch(ctx, w.store, target.BlobReference)
	require.NoError(t, err)
	approving, err := fetched.Approve(w.builder, target.CapabilityID, target.EncryptionIdentity)
	require.NoError(t, err)
	_, err = approving.Decrypt(ctx, w.client)
	requireFailure(t, err, SessionExpired, StateApproving)
	assert.ErrorIs(t, err, threshold.ErrSessionExpired)
}

func TestResume_Unsigned(t *testing.T) {
	w := newWorld(t)
	_, err := Resume(nil)
	assert.ErrorIs(t, err, ErrUnsigned)

	awaiting, err := w.uninitialized().Issue(w.reader.Address())
	require.NoError(t, err)
	_, err = Resume(awaiting.cred)
	assert.ErrorIs(t, err, ErrUnsigned)
	_, err = awaiting.cred.Certificate()
	assert.ErrorIs(t, err, ErrUnsigned)
}

func TestIssue_Validation(t *testing.T) {
	w := newWorld(t)
	u := w.uninitialized()

	_, err := u.Issue("not-an-address")
	assert.Error(t, err)

	u.TTL = 30 * time.Second
	_, err = u.Issue(w.reader.Address())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	u = w.uninitialized()
	u.PackageID = ""
	_, err = u.Issue(w.reader.Address())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// --- Manager tests ---

func TestManager_ReusesCredentialAcrossFiles(t *testing.T) {
	w := newWorld(t)
	first := w.upload(t, []byte("file one"))
	second := w.upload(t, []byte("file two"))
	m := w.manager(t)
	ctx := context.Background()

	prompts := 0
	signer := countingSigner(w.reader, true, &prompts)

	got, err := m.Decrypt(ctx, signer, first)
	require.NoError(t, err)
	assert.Equal(t, []byte("file one"), got)

	w.now = w.now.Add(5 * time.Minute)
	got, err = m.Decrypt(ctx, signer, second)
	require.NoError(t, err)
	assert.Equal(t, []byte("file two"), got)
	assert.Equal(t, 1, prompts, "one signature for both files")

	_, ok := m.Cached(w.reader.Address())
	assert.True(t, ok)
}

func TestManager_ReissuesAfterExpiry(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("x"))
	m := w.manager(t)
	ctx := context.Background()

	prompts := 0
	signer := countingSigner(w.reader, true, &prompts)
	_, err := m.Decrypt(ctx, signer, target)
	require.NoError(t, err)

	w.now = w.now.Add(DefaultTTL + time.Second)
	_, ok := m.Cached(w.reader.Address())
	assert.False(t, ok)

	_, err = m.Decrypt(ctx, signer, target)
	require.NoError(t, err)
	assert.Equal(t, 2, prompts)
}

func TestManager_RejectionIsNotCached(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("x"))
	m := w.manager(t)

	prompts := 0
	_, err := m.Decrypt(context.Background(), countingSigner(w.reader, false, &prompts), target)
	requireFailure(t, err, UserRejected, StateAwaitingSignature)

	_, ok := m.Cached(w.reader.Address())
	assert.False(t, ok)
}

func TestManager_DeniedKeepsCredential(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("x"))
	m := w.manager(t)

	_, err := m.Decrypt(context.Background(), w.stranger, target)
	requireFailure(t, err, AccessDenied, StateApproving)

	_, ok := m.Cached(w.stranger.Address())
	assert.True(t, ok, "denial does not invalidate the credential")

	m.Forget(w.stranger.Address())
	_, ok = m.Cached(w.stranger.Address())
	assert.False(t, ok)
}

type expiringDecrypter struct{}

func (expiringDecrypter) Decrypt(context.Context, []byte, threshold.SessionKey, []byte) ([]byte, error) {
	return nil, threshold.ErrSessionExpired
}

func TestManager_ServerExpiryEvictsCredential(t *testing.T) {
	w := newWorld(t)
	target := w.upload(t, []byte("x"))
	m, err := NewManager(Config{Builder: w.builder, Store: w.store, Decrypter: expiringDecrypter{},
		Now: func() time.Time { return w.now }})
	require.NoError(t, err)

	_, err = m.Decrypt(context.Background(), w.reader, target)
	requireFailure(t, err, SessionExpired, StateApproving)
	_, ok := m.Cached(w.reader.Address())
	assert.False(t, ok)
}

func TestNewManager_Validation(t *testing.T) {
	w := newWorld(t)
	_, err := NewManager(Config{Store: w.store, Decrypter: w.client})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewManager(Config{Builder: w.builder, Store: w.store, Decrypter: w.client, TTL: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFailure_Error(t *testing.T) {
	f := &Failure{Reason: FetchError, State: StateReady, Err: errors.New("timeout")}
	assert.Equal(t, "session: FetchError in Ready: timeout", f.Error())
	assert.Equal(t, "session: AccessDenied in Approving", (&Failure{Reason: AccessDenied, State: StateApproving}).Error())
	assert.Equal(t, "Reason(9)", Reason(9).String())
	assert.ErrorIs(t, &Failure{Reason: SessionExpired}, ErrSessionExpired)
}
