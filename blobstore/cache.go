package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CachingStore reads through a local cache in front of a remote Store.
// Remote references are opaque, so cached blobs are keyed by sha256(ref) and
// each entry is stored as sha256(data) || data.
type CachingStore struct {
	cache  *LocalStore
	remote Store
	logger *zap.Logger
}

var _ Store = (*CachingStore)(nil)

// NewCachingStore wraps remote with cache. A nil logger discards output.
func NewCachingStore(cache *LocalStore, remote Store, logger *zap.Logger) *CachingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingStore{cache: cache, remote: remote, logger: logger}
}

func cacheKey(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:])
}

func sealEntry(data []byte) []byte {
	sum := sha256.Sum256(data)
	return append(sum[:], data...)
}

func openEntry(entry []byte) ([]byte, bool) {
	if len(entry) < sha256.Size {
		return nil, false
	}
	data := entry[sha256.Size:]
	sum := sha256.Sum256(data)
	return data, bytes.Equal(sum[:], entry[:sha256.Size])
}

// Put stores data remotely and caches it under the returned reference.
func (c *CachingStore) Put(ctx context.Context, data []byte) (string, error) {
	ref, err := c.remote.Put(ctx, data)
	if err != nil {
		return "", err
	}
	if err := c.cache.write(cacheKey(ref), sealEntry(data)); err != nil {
		c.logger.Warn("blob cache write failed", zap.String("ref", ref), zap.Error(err))
	}
	return ref, nil
}

// Get tries the cache first, then the remote store. Remote hits are cached.
// A corrupt cache entry is discarded and refetched.
func (c *CachingStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key := cacheKey(ref)
	entry, err := c.cache.read(key)
	switch {
	case err == nil:
		if data, ok := openEntry(entry); ok {
			return data, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("ref", ref))
		if err := c.cache.remove(key); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("blobstore: cache: %w", err)
		}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("blobstore: cache: %w", err)
	}

	data, err := c.remote.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := c.cache.write(key, sealEntry(data)); err != nil {
		c.logger.Warn("blob cache write failed", zap.String("ref", ref), zap.Error(err))
	}
	return data, nil
}
