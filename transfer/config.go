// Package transfer sequences the upload and download of confidential files:
// framing, threshold encryption, blob storage and the on-ledger capability
// that governs who may download.
package transfer

import "strings"

// Config selects degraded modes. The zero value is full operation.
type Config struct {
	// SkipEncryption stores framed bytes as-is and downloads them without a
	// threshold session.
	SkipEncryption bool `koanf:"skip_encryption"`

	// SkipRemoteStorage keeps blobs in the local store instead of the remote one.
	SkipRemoteStorage bool `koanf:"skip_remote_storage"`
}

// Degraded reports whether any mode is active.
func (c Config) Degraded() bool { return c.SkipEncryption || c.SkipRemoteStorage }

// Describe returns the user-facing message for the active modes.
func (c Config) Describe() string {
	var off []string
	if c.SkipEncryption {
		off = append(off, "encryption is disabled, files are stored unencrypted")
	}
	if c.SkipRemoteStorage {
		off = append(off, "remote storage is disabled, blobs are kept on this machine")
	}
	if len(off) == 0 {
		return "encrypted, remote storage"
	}
	return "degraded mode: " + strings.Join(off, "; ")
}
