package threshold

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.dedis.ch/kyber/v3/share"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bitfsorg/libgrant-go/ledger"
)

// ClientOptions configures NewClient.
type ClientOptions struct {
	Now    func() time.Time
	Logger *zap.Logger
}

// Client decrypts objects by collecting shares from key servers.
type Client struct {
	servers map[string]KeyServerClient
	now     func() time.Time
	logger  *zap.Logger
}

// NewClient creates a Client over servers. Server ids must be unique.
func NewClient(servers []KeyServerClient, opts ClientOptions) (*Client, error) {
	m := make(map[string]KeyServerClient, len(servers))
	for _, s := range servers {
		id, err := ledger.NormalizeAddress(s.ObjectID())
		if err != nil {
			return nil, fmt.Errorf("threshold: key server id: %w", err)
		}
		if _, dup := m[id]; dup {
			return nil, fmt.Errorf("threshold: duplicate key server %s", id)
		}
		m[id] = s
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{servers: m, now: opts.Now, logger: opts.Logger}, nil
}

// fetched is one server's outcome.
type fetched struct {
	share *share.PriShare
	err   error
}

// Decrypt recovers the plaintext of encrypted. approval is the encoded
// seal_approve transaction kind each server re-evaluates as the session's
// address. Requests stop once threshold shares are in hand.
//
// When quorum is not reached the error reflects the strongest cause seen:
// ErrSessionExpired, then ErrAccessDenied, then ErrQuorumNotReached.
func (c *Client) Decrypt(ctx context.Context, encrypted []byte, sk SessionKey, approval []byte) ([]byte, error) {
	obj, err := ParseObject(encrypted)
	if err != nil {
		return nil, err
	}
	cert, err := sk.Certificate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	if cert.Expired(c.now()) {
		return nil, fmt.Errorf("%w: expired at %s", ErrSessionExpired, cert.ExpiresAt().UTC().Format(time.RFC3339))
	}
	reqSig, err := signRequest(sk.PrivateKey(), approval, obj.Identity)
	if err != nil {
		return nil, err
	}

	var targets []EncryptedShare
	for _, s := range obj.Shares {
		if _, ok := c.servers[s.ServerID]; ok {
			targets = append(targets, s)
		}
	}
	if len(targets) < obj.Threshold {
		return nil, fmt.Errorf("%w: %d of %d servers known, need %d",
			ErrQuorumNotReached, len(targets), len(obj.Shares), obj.Threshold)
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results []fetched
		got     int
	)
	g, gctx := errgroup.WithContext(fanCtx)
	for _, s := range targets {
		g.Go(func() error {
			ps, err := c.fetchShare(gctx, obj, s, cert, approval, reqSig, sk)
			mu.Lock()
			defer mu.Unlock()
			if got >= obj.Threshold {
				return nil
			}
			results = append(results, fetched{share: ps, err: err})
			if err == nil {
				got++
				if got == obj.Threshold {
					cancel()
				}
			} else {
				c.logger.Debug("share fetch failed", zap.String("server", s.ServerID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	var shares []*share.PriShare
	var errs []error
	for _, r := range results {
		if r.err == nil {
			shares = append(shares, r.share)
		} else {
			errs = append(errs, r.err)
		}
	}
	if len(shares) < obj.Threshold {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		}
		return nil, quorumError(len(shares), obj.Threshold, errs)
	}
	return combine(obj, shares[:obj.Threshold])
}

func (c *Client) fetchShare(ctx context.Context, obj *EncryptedObject, s EncryptedShare,
	cert *Certificate, approval, reqSig []byte, sk SessionKey) (*share.PriShare, error) {
	resp, err := c.servers[s.ServerID].FetchKey(ctx, &FetchKeyRequest{
		Certificate:      *cert,
		Approval:         approval,
		Identity:         obj.Identity,
		Share:            s,
		RequestSignature: reqSig,
	})
	if err != nil {
		return nil, err
	}
	if resp.ServerID != s.ServerID || resp.Index != s.Index {
		return nil, fmt.Errorf("%w: mismatched response from %s", ErrTransport, s.ServerID)
	}
	raw, err := openFrom(sk.PrivateKey(), resp.Ephemeral, resp.Ciphertext, obj.Identity,
		infoRelease, shareAAD(s.ServerID, obj.Identity, s.Index))
	if err != nil {
		return nil, fmt.Errorf("%w: share from %s: %w", ErrTransport, s.ServerID, err)
	}
	v, err := decodeScalar(raw)
	if err != nil {
		return nil, err
	}
	return &share.PriShare{I: int(s.Index), V: v}, nil
}

func quorumError(got, need int, errs []error) error {
	for _, e := range errs {
		if errors.Is(e, ErrSessionExpired) {
			return e
		}
	}
	for _, e := range errs {
		if errors.Is(e, ErrAccessDenied) {
			return e
		}
	}
	return fmt.Errorf("%w: %d of %d shares: %w", ErrQuorumNotReached, got, need,
		fmt.Errorf("%w: %v", ErrTransport, errors.Join(errs...)))
}
