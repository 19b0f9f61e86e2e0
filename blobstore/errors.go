package blobstore

import "errors"

var (
	// ErrNotFound indicates no blob exists for the given reference.
	ErrNotFound = errors.New("blobstore: blob not found")

	// ErrFetch indicates a blob could not be retrieved. Retryable.
	ErrFetch = errors.New("blobstore: fetch failed")

	// ErrUpload indicates a blob could not be stored. Retryable.
	ErrUpload = errors.New("blobstore: upload failed")

	// ErrInsufficientFunds indicates the publisher refused the upload for lack of funds.
	ErrInsufficientFunds = errors.New("blobstore: insufficient funds for storage")

	// ErrEmptyContent indicates an attempt to store empty content.
	ErrEmptyContent = errors.New("blobstore: content is empty")

	// ErrInvalidReference indicates a reference the store cannot interpret.
	ErrInvalidReference = errors.New("blobstore: invalid blob reference")

	// ErrIOFailure indicates a local file read/write error.
	ErrIOFailure = errors.New("blobstore: I/O failure")

	// ErrInvalidBaseDir indicates the base directory path is invalid.
	ErrInvalidBaseDir = errors.New("blobstore: invalid base directory")

	// ErrHashMismatch indicates stored content no longer matches its reference.
	ErrHashMismatch = errors.New("blobstore: content hash mismatch")
)
