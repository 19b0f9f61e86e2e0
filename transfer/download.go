package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bitfsorg/libgrant-go/access"
	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/envelope"
	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/session"
)

// DownloaderOptions configures NewDownloader.
type DownloaderOptions struct {
	Ledger  ledger.Service
	Builder *ledger.Builder
	Remote  blobstore.Store
	Local   blobstore.Store
	// Decrypter is the threshold client. Unused with SkipEncryption.
	Decrypter  session.Decrypter
	SessionTTL time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
}

// Downloader checks access, fetches, decrypts and unframes files.
type Downloader struct {
	cfg      Config
	svc      ledger.Service
	eval     *access.Evaluator
	store    blobstore.Store
	local    blobstore.Store
	sessions *session.Manager
	logger   *zap.Logger
}

// NewDownloader creates a Downloader for cfg.
func NewDownloader(cfg Config, opts DownloaderOptions) (*Downloader, error) {
	if opts.Ledger == nil || opts.Builder == nil {
		return nil, fmt.Errorf("%w: ledger and builder are required", ErrInvalidOptions)
	}
	store, err := pickStore(cfg, opts.Remote, opts.Local)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Downloader{
		cfg:    cfg,
		svc:    opts.Ledger,
		eval:   access.NewEvaluator(opts.Ledger, opts.Builder, logger),
		store:  store,
		local:  opts.Local,
		logger: logger,
	}
	if !cfg.SkipEncryption {
		if opts.Decrypter == nil {
			return nil, fmt.Errorf("%w: decrypter required unless encryption is skipped", ErrInvalidOptions)
		}
		d.sessions, err = session.NewManager(session.Config{
			Builder:   opts.Builder,
			Store:     routedStore{d},
			Decrypter: opts.Decrypter,
			TTL:       opts.SessionTTL,
			Now:       opts.Now,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Sessions returns the session manager, or nil with SkipEncryption.
func (d *Downloader) Sessions() *session.Manager { return d.sessions }

// Download returns the file behind capabilityID for signer. A nil signer
// checks that the capability exists and then reports ErrNoActor.
func (d *Downloader) Download(ctx context.Context, capabilityID string, signer session.MessageSigner) (*File, error) {
	c, err := d.svc.GetCapability(ctx, capabilityID)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, ErrNoActor)
	}
	log := d.logger.With(zap.String("capability", c.ID), zap.String("actor", signer.Address()))

	ok, err := d.eval.Evaluate(ctx, c.ID, signer.Address())
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("download denied")
		return nil, fmt.Errorf("%w: %s may not download %s", ErrAccessDenied, signer.Address(), c.ID)
	}

	var framed []byte
	if d.cfg.SkipEncryption {
		framed, err = d.get(ctx, c.BlobReference)
	} else {
		framed, err = d.sessions.Decrypt(ctx, signer, session.TargetOf(c))
	}
	if err != nil {
		log.Debug("download failed", zap.Error(err))
		return nil, err
	}

	hdr, data, err := envelope.Unframe(framed)
	if err != nil {
		return nil, err
	}
	log.Info("file downloaded", zap.String("name", hdr.Name), zap.Int("size", len(data)))
	return &File{Name: hdr.Name, Type: hdr.Type, Size: int64(len(data)), Data: data}, nil
}

// get reads ref, sending local references to the local store when one is set.
func (d *Downloader) get(ctx context.Context, ref string) ([]byte, error) {
	if d.local != nil && strings.HasPrefix(ref, blobstore.LocalPrefix) {
		return d.local.Get(ctx, ref)
	}
	return d.store.Get(ctx, ref)
}

// routedStore lets sessions read through Downloader.get.
type routedStore struct{ d *Downloader }

func (r routedStore) Put(ctx context.Context, data []byte) (string, error) {
	return r.d.store.Put(ctx, data)
}

func (r routedStore) Get(ctx context.Context, ref string) ([]byte, error) {
	return r.d.get(ctx, ref)
}
