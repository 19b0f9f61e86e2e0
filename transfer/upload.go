package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/envelope"
	"github.com/bitfsorg/libgrant-go/identity"
	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/threshold"
)

// DefaultGrantTTL is the expiry applied to grants that specify none.
const DefaultGrantTTL = 10 * time.Minute

// Progress milestones reported by Upload.
const (
	ProgressIdentity  = 10
	ProgressEncrypted = 20
	ProgressStored    = 40
	ProgressSubmitted = 60
	ProgressDone      = 100
)

// GrantRequest asks for one address to be granted access. A zero ExpiresAt
// means the default TTL from now; Never overrides ExpiresAt.
type GrantRequest struct {
	Address   string
	ExpiresAt time.Time
	Never     bool
}

// UploadRequest describes one file to upload.
type UploadRequest struct {
	Name string
	// Type overrides media type detection when set.
	Type     string
	Data     []byte
	IsPublic bool
	Grants   []GrantRequest
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	CapabilityID  string
	BlobReference string
	Identity      identity.ID
	Digest        string
	Header        envelope.Header
}

// UploaderOptions configures NewUploader.
type UploaderOptions struct {
	Ledger  ledger.Service
	Builder *ledger.Builder
	// Remote is used unless SkipRemoteStorage is set.
	Remote blobstore.Store
	// Local is used when SkipRemoteStorage is set.
	Local blobstore.Store
	// KeyServers and Threshold configure encryption. Unused with SkipEncryption.
	KeyServers []threshold.ServerInfo
	Threshold  int
	GrantTTL   time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
}

// Uploader turns a file into a stored blob plus a shared capability.
type Uploader struct {
	cfg     Config
	svc     ledger.Service
	builder *ledger.Builder
	store   blobstore.Store
	servers []threshold.ServerInfo
	t       int
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewUploader creates an Uploader for cfg.
func NewUploader(cfg Config, opts UploaderOptions) (*Uploader, error) {
	if opts.Ledger == nil || opts.Builder == nil {
		return nil, fmt.Errorf("%w: ledger and builder are required", ErrInvalidOptions)
	}
	store, err := pickStore(cfg, opts.Remote, opts.Local)
	if err != nil {
		return nil, err
	}
	if !cfg.SkipEncryption && (opts.Threshold < 1 || opts.Threshold > len(opts.KeyServers)) {
		return nil, fmt.Errorf("%w: threshold %d of %d key servers", ErrInvalidOptions, opts.Threshold, len(opts.KeyServers))
	}
	u := &Uploader{
		cfg:     cfg,
		svc:     opts.Ledger,
		builder: opts.Builder,
		store:   store,
		servers: opts.KeyServers,
		t:       opts.Threshold,
		ttl:     opts.GrantTTL,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if u.ttl <= 0 {
		u.ttl = DefaultGrantTTL
	}
	if u.now == nil {
		u.now = time.Now
	}
	if u.logger == nil {
		u.logger = zap.NewNop()
	}
	return u, nil
}

func pickStore(cfg Config, remote, local blobstore.Store) (blobstore.Store, error) {
	if cfg.SkipRemoteStorage {
		if local == nil {
			return nil, fmt.Errorf("%w: local store required when remote storage is skipped", ErrInvalidOptions)
		}
		return local, nil
	}
	if remote == nil {
		return nil, fmt.Errorf("%w: remote store required", ErrInvalidOptions)
	}
	return remote, nil
}

// Upload frames, encrypts, stores and registers req, signing the ledger
// transaction with signer. progress, if non-nil, receives increasing
// milestones. The first failing step aborts the upload.
func (u *Uploader) Upload(ctx context.Context, signer ledger.Signer, req UploadRequest, progress func(int)) (*UploadResult, error) {
	if signer == nil {
		return nil, ErrNoActor
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}
	grants, err := u.resolveGrants(req.Grants)
	if err != nil {
		return nil, err
	}
	log := u.logger.With(zap.String("file", req.Name), zap.String("owner", signer.Address()))

	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	report(ProgressIdentity)

	hdr := envelope.NewHeader(req.Name, req.Data)
	if req.Type != "" {
		hdr.Type = req.Type
	}
	payload, err := envelope.Frame(req.Data, hdr)
	if err != nil {
		return nil, err
	}
	if !u.cfg.SkipEncryption {
		payload, err = threshold.Encrypt(payload, id.Bytes(), u.t, u.builder.PackageID(), u.servers)
		if err != nil {
			return nil, err
		}
	}
	log.Debug("payload prepared", zap.Int("size", len(payload)), zap.Bool("encrypted", !u.cfg.SkipEncryption))
	report(ProgressEncrypted)

	ref, err := u.store.Put(ctx, payload)
	if err != nil {
		log.Debug("blob upload failed", zap.Error(err))
		return nil, err
	}
	log.Debug("blob stored", zap.String("blob_reference", ref))
	report(ProgressStored)

	tx, err := u.builder.BuildCreateAndShare(ledger.CreateRequest{
		BlobReference:      ref,
		EncryptionIdentity: id.Bytes(),
		IsPublic:           req.IsPublic,
		Grants:             grants,
	})
	if err != nil {
		return nil, err
	}
	digest, err := ledger.SignAndExecute(ctx, u.svc, tx, signer)
	if err != nil {
		log.Debug("capability creation failed", zap.Error(err))
		return nil, err
	}
	report(ProgressSubmitted)

	fx, err := u.svc.WaitForTransaction(ctx, digest)
	if err != nil {
		return nil, err
	}
	if fx.Status != ledger.StatusSuccess {
		return nil, ledger.ClassifyExecutionError(fmt.Errorf("%w: %s", ledger.ErrExecutionAborted, fx.Error))
	}
	capID, err := ledger.ExtractCapabilityID(fx.ObjectChanges, u.builder.CapabilityType())
	if err != nil {
		// The transaction committed and paid gas, but nothing usable exists.
		log.Warn("committed upload has no capability", zap.String("digest", digest))
		return nil, fmt.Errorf("transfer: tx %s: %w", digest, err)
	}
	report(ProgressDone)

	log.Info("file uploaded",
		zap.String("capability", capID),
		zap.String("digest", digest),
		zap.Int("grants", len(grants)))
	return &UploadResult{
		CapabilityID:  capID,
		BlobReference: ref,
		Identity:      id,
		Digest:        digest,
		Header:        hdr,
	}, nil
}

// resolveGrants converts requests into ledger grant specs.
func (u *Uploader) resolveGrants(reqs []GrantRequest) ([]ledger.GrantSpec, error) {
	specs := make([]ledger.GrantSpec, 0, len(reqs))
	for i, g := range reqs {
		exp, err := resolveExpiry(g, u.now(), u.ttl)
		if err != nil {
			return nil, fmt.Errorf("%w: grant %d: %w", ErrInvalidGrant, i, err)
		}
		if _, err := ledger.NormalizeAddress(g.Address); err != nil {
			return nil, fmt.Errorf("%w: grant %d: %w", ErrInvalidGrant, i, err)
		}
		specs = append(specs, ledger.GrantSpec{Address: g.Address, ExpiresAt: exp})
	}
	return specs, nil
}

func resolveExpiry(g GrantRequest, now time.Time, ttl time.Duration) (uint64, error) {
	switch {
	case g.Never:
		return ledger.NeverExpires, nil
	case g.ExpiresAt.IsZero():
		return ledger.Millis(now.Add(ttl)), nil
	case !g.ExpiresAt.After(now):
		return 0, fmt.Errorf("expiry %s is not in the future", g.ExpiresAt.UTC().Format(time.RFC3339))
	default:
		return ledger.Millis(g.ExpiresAt), nil
	}
}
