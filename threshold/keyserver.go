package threshold

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// FetchKeyRequest asks one key server for its share of an object.
type FetchKeyRequest struct {
	Certificate Certificate    `json:"certificate"`
	Approval    []byte         `json:"approval"`
	Identity    []byte         `json:"identity"`
	Share       EncryptedShare `json:"share"`
	// RequestSignature is a signature by the session key over Approval and Identity.
	RequestSignature []byte `json:"request_signature"`
}

// FetchKeyResponse carries one share sealed to the session key.
type FetchKeyResponse struct {
	ServerID   string `json:"server_id"`
	Index      uint16 `json:"index"`
	Ephemeral  []byte `json:"ephemeral"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyServerClient is the client's view of one key server.
type KeyServerClient interface {
	ObjectID() string
	FetchKey(ctx context.Context, req *FetchKeyRequest) (*FetchKeyResponse, error)
}

// KeyServerConfig configures a KeyServer.
type KeyServerConfig struct {
	ObjectID  string
	Key       *ec.PrivateKey
	PackageID string
	Ledger    ledger.Service
	Now       func() time.Time
	Logger    *zap.Logger
}

// KeyServer holds one share-decryption key and releases shares to sessions
// whose approval transaction passes on the ledger.
type KeyServer struct {
	objectID  string
	key       *ec.PrivateKey
	packageID string
	ledger    ledger.Service
	now       func() time.Time
	logger    *zap.Logger
}

var _ KeyServerClient = (*KeyServer)(nil)

// NewKeyServer creates a KeyServer.
func NewKeyServer(cfg KeyServerConfig) (*KeyServer, error) {
	id, err := ledger.NormalizeAddress(cfg.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("threshold: key server id: %w", err)
	}
	pkg, err := ledger.NormalizeAddress(cfg.PackageID)
	if err != nil {
		return nil, fmt.Errorf("threshold: package id: %w", err)
	}
	if cfg.Key == nil {
		return nil, errors.New("threshold: key server requires a private key")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("threshold: key server requires a ledger")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &KeyServer{
		objectID:  id,
		key:       cfg.Key,
		packageID: pkg,
		ledger:    cfg.Ledger,
		now:       cfg.Now,
		logger:    cfg.Logger.With(zap.String("key_server", id)),
	}, nil
}

// ObjectID returns the server's object id.
func (ks *KeyServer) ObjectID() string { return ks.objectID }

// PublicKey returns the key shares are sealed to.
func (ks *KeyServer) PublicKey() *ec.PublicKey { return ks.key.PubKey() }

// Info returns the ServerInfo encryptors need.
func (ks *KeyServer) Info(url string) ServerInfo {
	return ServerInfo{ObjectID: ks.objectID, PublicKey: ks.PublicKey(), URL: url}
}

// FetchKey verifies the session, re-evaluates the approval on the ledger as
// the certificate's address and, if every seal_approve call returns true,
// returns this server's share sealed to the session key.
func (ks *KeyServer) FetchKey(ctx context.Context, req *FetchKeyRequest) (*FetchKeyResponse, error) {
	cert := &req.Certificate
	if err := cert.Verify(ks.now()); err != nil {
		return nil, err
	}
	if pkg, err := ledger.NormalizeAddress(cert.PackageID); err != nil || pkg != ks.packageID {
		return nil, fmt.Errorf("%w: certificate is for package %s", ErrInvalidCertificate, cert.PackageID)
	}
	if err := verifyRequest(cert.SessionKey, req.RequestSignature, req.Approval, req.Identity); err != nil {
		return nil, err
	}
	if req.Share.ServerID != ks.objectID {
		return nil, fmt.Errorf("%w: share is for %s", ErrUnknownServer, req.Share.ServerID)
	}

	tx, err := ks.checkApproval(req.Approval, req.Identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	if err := ks.evaluate(ctx, tx, cert.Address); err != nil {
		return nil, err
	}

	raw, err := openFrom(ks.key, req.Share.Ephemeral, req.Share.Ciphertext, req.Identity,
		infoShareWrap, shareAAD(ks.objectID, req.Identity, req.Share.Index))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedObject, err)
	}
	session, _ := ec.PublicKeyFromBytes(cert.SessionKey)
	eph, sealed, err := sealTo(session, raw, req.Identity, infoRelease,
		shareAAD(ks.objectID, req.Identity, req.Share.Index))
	if err != nil {
		return nil, err
	}

	ks.logger.Debug("share released",
		zap.String("address", cert.Address),
		zap.Uint16("index", req.Share.Index))
	return &FetchKeyResponse{
		ServerID:   ks.objectID,
		Index:      req.Share.Index,
		Ephemeral:  eph,
		Ciphertext: sealed,
	}, nil
}

// checkApproval decodes the approval kind and requires every command to be a
// seal_approve call of this package for identity.
func (ks *KeyServer) checkApproval(kind, identity []byte) (*ledger.Transaction, error) {
	tx, err := ledger.DecodeKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidApproval, err)
	}
	if len(tx.Commands) == 0 {
		return nil, fmt.Errorf("%w: no commands", ErrInvalidApproval)
	}
	for i := range tx.Commands {
		c := &tx.Commands[i]
		if c.Package != ks.packageID || c.Module != ledger.ModuleName || c.Function != ledger.FnApprove {
			return nil, fmt.Errorf("%w: command %d calls %s", ErrInvalidApproval, i, c.Target())
		}
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("%w: command %d has no identity", ErrInvalidApproval, i)
		}
		id, err := ledger.DecodePureBytes(c.Args[0])
		if err != nil || !bytes.Equal(id, identity) {
			return nil, fmt.Errorf("%w: command %d identity mismatch", ErrInvalidApproval, i)
		}
	}
	return tx, nil
}

// evaluate dev-inspects tx as address. Anything but all-true is a denial.
func (ks *KeyServer) evaluate(ctx context.Context, tx *ledger.Transaction, address string) error {
	res, err := ks.ledger.DevInspect(ctx, tx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrCapabilityNotFound) {
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
		return fmt.Errorf("threshold: ledger: %w", err)
	}
	if res.Error != "" || len(res.Results) != len(tx.Commands) {
		return fmt.Errorf("%w: approval aborted: %s", ErrAccessDenied, res.Error)
	}
	for i := range res.Results {
		ok, err := (&ledger.InspectResult{Results: res.Results[i : i+1]}).DecodeBool()
		if err != nil || !ok {
			ks.logger.Info("approval denied", zap.String("address", address), zap.Int("command", i))
			return fmt.Errorf("%w: %s", ErrAccessDenied, address)
		}
	}
	return nil
}
