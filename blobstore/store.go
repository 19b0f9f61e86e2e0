// Package blobstore stores encrypted payloads off-ledger. Blobs are
// addressed by an opaque reference string returned from Put and recorded
// in the capability object.
package blobstore

import "context"

// MaxContentResponseSize is the maximum allowed response body size for blob
// fetches (1 GB).
const MaxContentResponseSize = 1 << 30

// Store is the blob store boundary.
type Store interface {
	// Put stores data and returns its reference.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the bytes behind ref. It returns ErrNotFound when no
	// source holds the blob.
	Get(ctx context.Context, ref string) ([]byte, error)
}
