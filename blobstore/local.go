package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LocalPrefix marks references produced by LocalStore.
const LocalPrefix = "local-"

// LocalStore implements Store on the local filesystem. Blobs are content
// addressed: the reference is "local-" + hex(sha256(data)) and the file lives
// at {baseDir}/{first two hex chars}/{hex}.
type LocalStore struct {
	baseDir string
	mu      sync.RWMutex
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at baseDir, creating the directory if needed.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, ErrInvalidBaseDir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// LocalReference returns the reference LocalStore assigns to data.
func LocalReference(data []byte) string {
	sum := sha256.Sum256(data)
	return LocalPrefix + hex.EncodeToString(sum[:])
}

// parseLocal extracts the hex digest from a local reference.
func parseLocal(ref string) (string, error) {
	h, ok := strings.CutPrefix(ref, LocalPrefix)
	if !ok || len(h) != 2*sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return strings.ToLower(h), nil
}

func (s *LocalStore) path(hexHash string) string {
	return filepath.Join(s.baseDir, hexHash[:2], hexHash)
}

// Put stores data and returns its content reference.
func (s *LocalStore) Put(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}
	ref := LocalReference(data)
	h, _ := parseLocal(ref)
	if err := s.write(h, data); err != nil {
		return "", err
	}
	return ref, nil
}

// Get returns the blob for ref, verifying its content hash.
func (s *LocalStore) Get(_ context.Context, ref string) ([]byte, error) {
	h, err := parseLocal(ref)
	if err != nil {
		return nil, err
	}
	data, err := s.read(h)
	if err != nil {
		return nil, err
	}
	if LocalReference(data) != LocalPrefix+h {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, ref)
	}
	return data, nil
}

// Has reports whether ref is stored.
func (s *LocalStore) Has(ref string) (bool, error) {
	h, err := parseLocal(ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(s.path(h)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return true, nil
}

// Delete removes ref.
func (s *LocalStore) Delete(ref string) error {
	h, err := parseLocal(ref)
	if err != nil {
		return err
	}
	return s.remove(h)
}

func (s *LocalStore) remove(hexHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(hexHash)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

func (s *LocalStore) write(hexHash string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.baseDir, hexHash[:2]), 0700); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.WriteFile(s.path(hexHash), data, 0600); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

func (s *LocalStore) read(hexHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(hexHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s%s", ErrNotFound, LocalPrefix, hexHash)
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return data, nil
}
