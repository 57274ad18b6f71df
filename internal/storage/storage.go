// Package storage provides the blob store for audio inputs and transcript
// outputs. Three interchangeable backends share one contract: an
// S3-compatible object store, a local filesystem mirror, and an in-memory
// map for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrInvalidKey is returned for object keys that escape the store root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// ObjectInfo describes a stored transcript object.
type ObjectInfo struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ArtifactStore is the contract shared by all blob backends. Keys are
// opaque strings with path-like syntax ("<owner>/<uuid>-<name>").
type ArtifactStore interface {
	// EnsureBuckets creates the audio and transcript namespaces if they do
	// not exist. Idempotent; concurrent first callers perform one probe.
	EnsureBuckets(ctx context.Context) error

	UploadAudio(ctx context.Context, r io.Reader, size int64, key string) (string, error)
	UploadTranscript(ctx context.Context, text string, key string) (string, error)

	// DownloadAudio writes the object at key to the local path dest.
	DownloadAudio(ctx context.Context, key, dest string) error
	// DownloadTranscript returns the transcript text, or ("", nil) when the
	// key does not exist.
	DownloadTranscript(ctx context.Context, key string) (string, error)

	DeleteAudio(ctx context.Context, key string) error
	DeleteTranscript(ctx context.Context, key string) error

	ListTranscripts(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// PresignedURL returns a time-limited read URL for a transcript object.
	// Local and in-memory backends return a functionally equivalent
	// substitute (file:// or memory://).
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
