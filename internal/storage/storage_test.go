package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]ArtifactStore {
	t.Helper()
	return map[string]ArtifactStore{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := []byte("RIFF fake audio payload \x00\x01\x02")

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureBuckets(ctx))

			key, err := store.UploadAudio(ctx, bytes.NewReader(payload), int64(len(payload)), "1/abc-demo.wav")
			require.NoError(t, err)
			assert.Equal(t, "1/abc-demo.wav", key)

			dest := filepath.Join(t.TempDir(), "out.wav")
			require.NoError(t, store.DownloadAudio(ctx, key, dest))
			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureBuckets(ctx))

			_, err := store.UploadTranscript(ctx, "hola mundo", "1/abc-demo.wav.txt")
			require.NoError(t, err)

			text, err := store.DownloadTranscript(ctx, "1/abc-demo.wav.txt")
			require.NoError(t, err)
			assert.Equal(t, "hola mundo", text)

			// Missing keys are a nil result, not an error.
			text, err = store.DownloadTranscript(ctx, "1/missing.txt")
			require.NoError(t, err)
			assert.Empty(t, text)
		})
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"../evil.txt", "a/../../evil.txt", "/abs.txt", ""} {
				_, err := store.UploadTranscript(ctx, "x", key)
				assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
			}
		})
	}
}

func TestListTranscripts(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureBuckets(ctx))
			_, err := store.UploadTranscript(ctx, "a", "1/a.txt")
			require.NoError(t, err)
			_, err = store.UploadTranscript(ctx, "b", "1/b.txt")
			require.NoError(t, err)
			_, err = store.UploadTranscript(ctx, "c", "2/c.txt")
			require.NoError(t, err)

			all, err := store.ListTranscripts(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			owned, err := store.ListTranscripts(ctx, "1/")
			require.NoError(t, err)
			require.Len(t, owned, 2)
			for _, obj := range owned {
				assert.True(t, strings.HasPrefix(obj.Key, "1/"))
				assert.Equal(t, int64(1), obj.Size)
				assert.WithinDuration(t, time.Now(), obj.Modified, time.Minute)
			}
		})
	}
}

func TestPresignedURLForms(t *testing.T) {
	ctx := context.Background()

	mem := NewMemoryStore()
	_, err := mem.UploadTranscript(ctx, "x", "1/t.txt")
	require.NoError(t, err)
	memURL, err := mem.PresignedURL(ctx, "1/t.txt", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "memory://transcripts/1/t.txt", memURL)

	local := NewLocalStore(t.TempDir())
	require.NoError(t, local.EnsureBuckets(ctx))
	_, err = local.UploadTranscript(ctx, "x", "1/t.txt")
	require.NoError(t, err)
	fileURL, err := local.PresignedURL(ctx, "1/t.txt", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fileURL, "file://"), "got %q", fileURL)

	// Absent key yields an empty URL on the filesystem backend (the
	// in-memory backend behaves the same way).
	missing, err := local.PresignedURL(ctx, "1/absent.txt", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureBuckets(ctx))
			_, err := store.UploadTranscript(ctx, "x", "1/t.txt")
			require.NoError(t, err)
			require.NoError(t, store.DeleteTranscript(ctx, "1/t.txt"))
			require.NoError(t, store.DeleteTranscript(ctx, "1/t.txt"))
			require.NoError(t, store.DeleteAudio(ctx, "1/never-existed.wav"))
		})
	}
}
