package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// fundsMarkers identify a publisher that cannot pay for storage.
var fundsMarkers = []string{"insufficient balance", "SUI coins"}

// WalrusConfig configures a Walrus client.
type WalrusConfig struct {
	PublisherURL   string
	AggregatorURLs []string
	// Epochs is the storage duration requested on upload. Zero leaves it to the publisher.
	Epochs  int
	Timeout time.Duration
	// MaxBlobSize bounds downloads. Zero means MaxContentResponseSize.
	MaxBlobSize int64
	Logger      *zap.Logger
}

// Walrus is a Store backed by a Walrus publisher and one or more aggregators.
type Walrus struct {
	publisher   string
	aggregators []string
	epochs      int
	maxBlobSize int64
	client      *http.Client
	logger      *zap.Logger
}

var _ Store = (*Walrus)(nil)

// NewWalrus creates a Walrus client.
func NewWalrus(cfg WalrusConfig) *Walrus {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBlobSize := cfg.MaxBlobSize
	if maxBlobSize <= 0 {
		maxBlobSize = MaxContentResponseSize
	}
	aggs := make([]string, 0, len(cfg.AggregatorURLs))
	for _, a := range cfg.AggregatorURLs {
		aggs = append(aggs, strings.TrimRight(a, "/"))
	}
	return &Walrus{
		publisher:   strings.TrimRight(cfg.PublisherURL, "/"),
		aggregators: aggs,
		epochs:      cfg.Epochs,
		maxBlobSize: maxBlobSize,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type walrusResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *walrusResponse) blobID() string {
	if r.NewlyCreated != nil && r.NewlyCreated.BlobObject.BlobID != "" {
		return r.NewlyCreated.BlobObject.BlobID
	}
	if r.AlreadyCertified != nil {
		return r.AlreadyCertified.BlobID
	}
	return ""
}

// IsFundsError reports whether a publisher error message means it is out of funds.
func IsFundsError(msg string) bool {
	for _, m := range fundsMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Put uploads data to the publisher: PUT {publisher}/v1/blobs.
func (w *Walrus) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}
	if w.publisher == "" {
		return "", fmt.Errorf("%w: no publisher configured", ErrUpload)
	}

	u := w.publisher + "/v1/blobs"
	if w.epochs > 0 {
		u += "?" + url.Values{"epochs": {strconv.Itoa(w.epochs)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrUpload, err)
	}

	var out walrusResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && out.Error != nil) {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		if IsFundsError(msg) {
			return "", fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
		}
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrUpload, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUpload, decodeErr)
	}

	id := out.blobID()
	if id == "" {
		return "", fmt.Errorf("%w: no blob id returned", ErrUpload)
	}
	w.logger.Debug("blob uploaded", zap.String("blob_id", id), zap.Int("size", len(data)))
	return id, nil
}

// Get fetches ref from each aggregator in order and returns the first
// success. It returns ErrNotFound only if every aggregator reports 404.
func (w *Walrus) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, ErrInvalidReference
	}
	if len(w.aggregators) == 0 {
		return nil, fmt.Errorf("%w: no aggregator configured", ErrFetch)
	}

	var errs []error
	notFound := 0
	for _, agg := range w.aggregators {
		data, err := w.fetch(ctx, agg, ref)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, ctx.Err())
		}
		if errors.Is(err, ErrNotFound) {
			notFound++
		}
		w.logger.Debug("aggregator fetch failed", zap.String("aggregator", agg), zap.Error(err))
		errs = append(errs, err)
	}
	if notFound == len(w.aggregators) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return nil, fmt.Errorf("%w: %v", ErrFetch, errors.Join(errs...))
}

func (w *Walrus) fetch(ctx context.Context, agg, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, agg+"/v1/blobs/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator %s: %w", agg, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("aggregator %s: %w", agg, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator %s: HTTP %d", agg, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("aggregator %s: read body: %w", agg, err)
	}
	if int64(len(data)) > w.maxBlobSize {
		return nil, fmt.Errorf("aggregator %s: blob exceeds %d bytes", agg, w.maxBlobSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("aggregator %s: empty response", agg)
	}
	return data, nil
}
