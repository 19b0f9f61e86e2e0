package threshold

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/localnet"
	"github.com/bitfsorg/libgrant-go/wallet"
)

// testSession is a SessionKey signed by a wallet actor.
type testSession struct {
	cert *Certificate
	priv *ec.PrivateKey
}

func (s *testSession) Certificate() (*Certificate, error) { return s.cert, nil }
func (s *testSession) PrivateKey() *ec.PrivateKey          { return s.priv }

func newSession(t *testing.T, actor *wallet.Actor, pkg string, created time.Time, ttl int) *testSession {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	cert := &Certificate{
		Address:    actor.Address(),
		PackageID:  pkg,
		SessionKey: priv.PubKey().Compressed(),
		CreatedAt:  created.UnixMilli(),
		TTLMinutes: ttl,
	}
	cert.Signature, err = actor.SignPersonalMessage(cert.Message())
	require.NoError(t, err)
	return &testSession{cert: cert, priv: priv}
}

type world struct {
	node     *localnet.Node
	builder  *ledger.Builder
	servers  []*KeyServer
	owner    *wallet.Actor
	reader   *wallet.Actor
	stranger *wallet.Actor
	now      time.Time
	identity []byte
	capID    string
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		now:      time.UnixMilli(1_700_000_000_000),
		identity: bytes.Repeat([]byte{0x5e}, 32),
	}
	clock := func() time.Time { return w.now }
	node, err := localnet.Open(filepath.Join(t.TempDir(), "ledger.db"), localnet.Options{Now: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	w.node = node
	w.builder, err = ledger.NewBuilder(node.PackageID())
	require.NoError(t, err)

	for _, p := range []**wallet.Actor{&w.owner, &w.reader, &w.stranger} {
		*p, err = wallet.GenerateActor()
		require.NoError(t, err)
	}
	for _, id := range []string{"0x51", "0x52", "0x53"} {
		key, err := ec.NewPrivateKey()
		require.NoError(t, err)
		ks, err := NewKeyServer(KeyServerConfig{
			ObjectID:  id,
			Key:       key,
			PackageID: node.PackageID(),
			Ledger:    node,
			Now:       clock,
		})
		require.NoError(t, err)
		w.servers = append(w.servers, ks)
	}

	tx, err := w.builder.BuildCreateAndShare(ledger.CreateRequest{
		BlobReference:      "blob-1",
		EncryptionIdentity: w.identity,
		Grants:             []ledger.GrantSpec{{Address: w.reader.Address(), ExpiresAt: ledger.NeverExpires}},
	})
	require.NoError(t, err)
	fx, err := ledger.Submit(context.Background(), node, tx, w.owner)
	require.NoError(t, err)
	w.capID, err = ledger.ExtractCapabilityID(fx.ObjectChanges, w.builder.CapabilityType())
	require.NoError(t, err)
	return w
}

func (w *world) infos() []ServerInfo {
	out := make([]ServerInfo, len(w.servers))
	for i, s := range w.servers {
		out[i] = s.Info("")
	}
	return out
}

func (w *world) encrypt(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := Encrypt(data, w.identity, 2, w.node.PackageID(), w.infos())
	require.NoError(t, err)
	return enc
}

func (w *world) approval(t *testing.T) []byte {
	t.Helper()
	kind, err := w.builder.BuildDecryptionApproval(w.capID, w.identity)
	require.NoError(t, err)
	return kind
}

func (w *world) client(t *testing.T, servers ...KeyServerClient) *Client {
	t.Helper()
	if len(servers) == 0 {
		for _, s := range w.servers {
			servers = append(servers, s)
		}
	}
	c, err := NewClient(servers, ClientOptions{Now: func() time.Time { return w.now }})
	require.NoError(t, err)
	return c
}

func (w *world) session(t *testing.T, actor *wallet.Actor) *testSession {
	return newSession(t, actor, w.node.PackageID(), w.now, 10)
}

// stubServer answers every request with a fixed error.
type stubServer struct {
	id  string
	err error
}

func (s *stubServer) ObjectID() string { return s.id }
func (s *stubServer) FetchKey(context.Context, *FetchKeyRequest) (*FetchKeyResponse, error) {
	return nil, s.err
}

// --- Encrypt tests ---

func TestEncrypt_Validation(t *testing.T) {
	w := newWorld(t)
	pkg := w.node.PackageID()

	_, err := Encrypt([]byte("x"), w.identity[:16], 2, pkg, w.infos())
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	for _, th := range []int{0, 4} {
		_, err = Encrypt([]byte("x"), w.identity, th, pkg, w.infos())
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	}

	_, err = Encrypt([]byte("x"), w.identity, 1, pkg, []ServerInfo{{ObjectID: "0x1"}})
	assert.Error(t, err)
}

func TestEncrypt_ObjectShape(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("hello"))
	obj, err := ParseObject(enc)
	require.NoError(t, err)
	assert.Equal(t, w.node.PackageID(), obj.PackageID)
	assert.Equal(t, w.identity, obj.Identity)
	assert.Equal(t, 2, obj.Threshold)
	require.Len(t, obj.Shares, 3)
	for i, s := range obj.Shares {
		assert.Equal(t, w.servers[i].ObjectID(), s.ServerID)
		assert.Equal(t, uint16(i), s.Index)
	}
	assert.NotContains(t, string(enc), "hello")
}

// --- Decrypt tests ---

func TestDecrypt_RoundTrip(t *testing.T) {
	w := newWorld(t)
	data := bytes.Repeat([]byte("report.pdf "), 1000)
	enc := w.encrypt(t, data)

	got, err := w.client(t).Decrypt(context.Background(), enc, w.session(t, w.reader), w.approval(t))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecrypt_AnyTwoOfThree(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("quorum"))
	sk := w.session(t, w.reader)

	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}}
	for _, p := range pairs {
		c := w.client(t, w.servers[p[0]], w.servers[p[1]])
		got, err := c.Decrypt(context.Background(), enc, sk, w.approval(t))
		require.NoError(t, err, "servers %v", p)
		assert.Equal(t, []byte("quorum"), got)
	}

	_, err := w.client(t, w.servers[1]).Decrypt(context.Background(), enc, sk, w.approval(t))
	assert.ErrorIs(t, err, ErrQuorumNotReached)
}

func TestDecrypt_OneServerDown(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("still works"))
	down := &stubServer{id: w.servers[0].ObjectID(), err: ErrTransport}

	got, err := w.client(t, down, w.servers[1], w.servers[2]).
		Decrypt(context.Background(), enc, w.session(t, w.reader), w.approval(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("still works"), got)
}

func TestDecrypt_Denied(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("secret"))

	_, err := w.client(t).Decrypt(context.Background(), enc, w.session(t, w.stranger), w.approval(t))
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDecrypt_RevokedReader(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	enc := w.encrypt(t, []byte("secret"))
	sk := w.session(t, w.reader)

	_, err := w.client(t).Decrypt(ctx, enc, sk, w.approval(t))
	require.NoError(t, err)

	capObj, err := w.node.GetCapability(ctx, w.capID)
	require.NoError(t, err)
	tx, err := w.builder.BuildRevoke(capObj.Ref(), w.reader.Address())
	require.NoError(t, err)
	_, err = ledger.Submit(ctx, w.node, tx, w.owner)
	require.NoError(t, err)

	_, err = w.client(t).Decrypt(ctx, enc, sk, w.approval(t))
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDecrypt_ExpiredSession(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("secret"))
	sk := w.session(t, w.reader)

	w.now = w.now.Add(10 * time.Minute)
	_, err := w.client(t).Decrypt(context.Background(), enc, sk, w.approval(t))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestDecrypt_ServerSideExpiry(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("secret"))
	sk := w.session(t, w.reader)

	// The client's clock lags the servers'.
	c, err := NewClient([]KeyServerClient{w.servers[0], w.servers[1], w.servers[2]},
		ClientOptions{Now: func() time.Time { return time.UnixMilli(1_700_000_000_000) }})
	require.NoError(t, err)
	w.now = w.now.Add(time.Hour)

	_, err = c.Decrypt(context.Background(), enc, sk, w.approval(t))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestDecrypt_ErrorPrecedence(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("x"))
	sk := w.session(t, w.reader)
	ids := []string{w.servers[0].ObjectID(), w.servers[1].ObjectID(), w.servers[2].ObjectID()}

	tests := []struct {
		name    string
		errs    [3]error
		wantErr error
		notErr  error
	}{
		{"expired beats denied", [3]error{ErrTransport, ErrAccessDenied, ErrSessionExpired}, ErrSessionExpired, nil},
		{"denied beats transport", [3]error{ErrTransport, ErrAccessDenied, ErrTransport}, ErrAccessDenied, ErrQuorumNotReached},
		{"transport only", [3]error{ErrTransport, ErrTransport, errors.New("boom")}, ErrQuorumNotReached, ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var servers []KeyServerClient
			for i, e := range tt.errs {
				servers = append(servers, &stubServer{id: ids[i], err: e})
			}
			_, err := w.client(t, servers...).Decrypt(context.Background(), enc, sk, w.approval(t))
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.notErr != nil {
				assert.NotErrorIs(t, err, tt.notErr)
			}
		})
	}

	t.Run("quorum wraps transport", func(t *testing.T) {
		servers := []KeyServerClient{
			&stubServer{id: ids[0], err: ErrTransport},
			&stubServer{id: ids[1], err: ErrTransport},
		}
		_, err := w.client(t, servers...).Decrypt(context.Background(), enc, sk, w.approval(t))
		assert.ErrorIs(t, err, ErrQuorumNotReached)
		assert.ErrorIs(t, err, ErrTransport)
	})
}

func TestDecrypt_TamperedPayload(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("integrity"))
	enc[len(enc)-1] ^= 0xFF

	_, err := w.client(t).Decrypt(context.Background(), enc, w.session(t, w.reader), w.approval(t))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	w := newWorld(t)
	_, err := w.client(t).Decrypt(context.Background(), []byte("nope"), w.session(t, w.reader), w.approval(t))
	assert.ErrorIs(t, err, ErrMalformedObject)
}

// --- KeyServer tests ---

func (w *world) request(t *testing.T, sk *testSession, enc []byte, server int) *FetchKeyRequest {
	t.Helper()
	obj, err := ParseObject(enc)
	require.NoError(t, err)
	approval := w.approval(t)
	sig, err := signRequest(sk.priv, approval, obj.Identity)
	require.NoError(t, err)
	return &FetchKeyRequest{
		Certificate:      *sk.cert,
		Approval:         approval,
		Identity:         obj.Identity,
		Share:            obj.Shares[server],
		RequestSignature: sig,
	}
}

func TestKeyServer_FetchKey(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("x"))
	sk := w.session(t, w.reader)

	resp, err := w.servers[1].FetchKey(context.Background(), w.request(t, sk, enc, 1))
	require.NoError(t, err)
	assert.Equal(t, w.servers[1].ObjectID(), resp.ServerID)
	assert.Equal(t, uint16(1), resp.Index)
	assert.Len(t, resp.Ephemeral, 33)
}

func TestKeyServer_Rejections(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("x"))

	tests := []struct {
		name    string
		mutate  func(*FetchKeyRequest)
		wantErr error
	}{
		{"wrong server", func(r *FetchKeyRequest) {}, ErrUnknownServer},
		{"forged certificate", func(r *FetchKeyRequest) {
			r.Certificate.Address = w.stranger.Address()
		}, ErrInvalidCertificate},
		{"unsigned certificate", func(r *FetchKeyRequest) { r.Certificate.Signature = nil }, ErrInvalidCertificate},
		{"other package", func(r *FetchKeyRequest) {
			r.Certificate.PackageID = "0x99"
		}, ErrInvalidCertificate},
		{"bad request signature", func(r *FetchKeyRequest) {
			r.RequestSignature = []byte{0x30, 0x00}
		}, ErrInvalidCertificate},
		{"identity swap", func(r *FetchKeyRequest) {
			r.Identity = bytes.Repeat([]byte{1}, 32)
		}, ErrInvalidCertificate},
		{"not an approval", func(r *FetchKeyRequest) { r.Approval = []byte("junk") }, ErrInvalidCertificate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := w.request(t, w.session(t, w.reader), enc, 0)
			tt.mutate(req)
			server := w.servers[0]
			if tt.wantErr == ErrUnknownServer {
				server = w.servers[2]
			}
			_, err := server.FetchKey(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestKeyServer_ApprovalChecks(t *testing.T) {
	w := newWorld(t)
	enc := w.encrypt(t, []byte("x"))
	sk := w.session(t, w.reader)

	signed := func(req *FetchKeyRequest) *FetchKeyRequest {
		var err error
		req.RequestSignature, err = signRequest(sk.priv, req.Approval, req.Identity)
		require.NoError(t, err)
		return req
	}

	t.Run("probe instead of seal_approve", func(t *testing.T) {
		req := w.request(t, sk, enc, 0)
		probe, err := w.builder.BuildApprovalProbe(w.capID, w.reader.Address())
		require.NoError(t, err)
		req.Approval, err = probe.EncodeKind()
		require.NoError(t, err)
		_, err = w.servers[0].FetchKey(context.Background(), signed(req))
		assert.ErrorIs(t, err, ErrAccessDenied)
		assert.ErrorIs(t, err, ErrInvalidApproval)
	})

	t.Run("approval for another identity", func(t *testing.T) {
		req := w.request(t, sk, enc, 0)
		var err error
		req.Approval, err = w.builder.BuildDecryptionApproval(w.capID, bytes.Repeat([]byte{9}, 32))
		require.NoError(t, err)
		_, err = w.servers[0].FetchKey(context.Background(), signed(req))
		assert.ErrorIs(t, err, ErrInvalidApproval)
	})

	t.Run("missing capability", func(t *testing.T) {
		req := w.request(t, sk, enc, 0)
		var err error
		req.Approval, err = w.builder.BuildDecryptionApproval("0xdead", w.identity)
		require.NoError(t, err)
		_, err = w.servers[0].FetchKey(context.Background(), signed(req))
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("ledger outage is not a denial", func(t *testing.T) {
		key, err := ec.NewPrivateKey()
		require.NoError(t, err)
		ks, err := NewKeyServer(KeyServerConfig{
			ObjectID:  w.servers[0].ObjectID(),
			Key:       key,
			PackageID: w.node.PackageID(),
			Ledger: &ledger.MockService{
				DevInspectFn: func(context.Context, *ledger.Transaction, string) (*ledger.InspectResult, error) {
					return nil, ledger.ErrConnectionFailed
				},
			},
			Now: func() time.Time { return w.now },
		})
		require.NoError(t, err)
		_, err = ks.FetchKey(context.Background(), w.request(t, sk, enc, 0))
		assert.ErrorIs(t, err, ledger.ErrConnectionFailed)
		assert.NotErrorIs(t, err, ErrAccessDenied)
	})
}

func TestNewKeyServer_Validation(t *testing.T) {
	key, err := ec.NewPrivateKey()
	require.NoError(t, err)
	svc := &ledger.MockService{}

	_, err = NewKeyServer(KeyServerConfig{ObjectID: "0xzz", Key: key, PackageID: "0x1", Ledger: svc})
	assert.Error(t, err)
	_, err = NewKeyServer(KeyServerConfig{ObjectID: "bad", Key: key, PackageID: "0x1", Ledger: svc})
	assert.ErrorIs(t, err, ledger.ErrInvalidAddress)
	_, err = NewKeyServer(KeyServerConfig{ObjectID: "0x1", PackageID: "0x1", Ledger: svc})
	assert.Error(t, err)
	_, err = NewKeyServer(KeyServerConfig{ObjectID: "0x1", Key: key, PackageID: "0x1"})
	assert.Error(t, err)
}
