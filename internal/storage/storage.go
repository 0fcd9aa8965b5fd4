package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	Bucket() string
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// UploadAvatar stores an avatar object under a fresh key for the user and
// returns the object's public URL.
func (s *Storage) UploadAvatar(ctx context.Context, userID int, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := avatarKey(userID, filename)
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	return s.backend.PublicURL(key), nil
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// avatarKey derives a collision-free object key. The random component keeps
// stale CDN/browser caches from serving a replaced avatar.
func avatarKey(userID int, filename string) string {
	ext := strings.ToLower(path.Ext(filename))

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("avatars/%d/avatar%s", userID, ext)
	}
	return fmt.Sprintf("avatars/%d/%s%s", userID, hex.EncodeToString(buf[:]), ext)
}
