package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribeflow/pkg/logger"
)

// LocalStore mirrors object keys into two directories under a root:
// <root>/audio and <root>/transcripts. Writes go through a temp file and
// an atomic rename so readers never observe partial objects.
type LocalStore struct {
	audioDir      string
	transcriptDir string
}

// NewLocalStore builds a filesystem-backed store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{
		audioDir:      filepath.Join(dir, "audio"),
		transcriptDir: filepath.Join(dir, "transcripts"),
	}
}

func (s *LocalStore) EnsureBuckets(ctx context.Context) error {
	for _, dir := range []string{s.audioDir, s.transcriptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return nil
}

func (s *LocalStore) path(root, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(key)), nil
}

// writeAtomic streams r into path via a sibling temp file and rename.
func writeAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *LocalStore) UploadAudio(ctx context.Context, r io.Reader, size int64, key string) (string, error) {
	path, err := s.path(s.audioDir, key)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, r); err != nil {
		return "", fmt.Errorf("storage: upload audio %s: %w", key, err)
	}
	return key, nil
}

func (s *LocalStore) UploadTranscript(ctx context.Context, text string, key string) (string, error) {
	path, err := s.path(s.transcriptDir, key)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, strings.NewReader(text)); err != nil {
		return "", fmt.Errorf("storage: upload transcript %s: %w", key, err)
	}
	return key, nil
}

func (s *LocalStore) DownloadAudio(ctx context.Context, key, dest string) error {
	path, err := s.path(s.audioDir, key)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("storage: download audio %s: %w", key, err)
	}
	defer src.Close()
	return writeAtomic(dest, src)
}

func (s *LocalStore) DownloadTranscript(ctx context.Context, key string) (string, error) {
	path, err := s.path(s.transcriptDir, key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("storage: download transcript %s: %w", key, err)
	}
	return string(data), nil
}

func (s *LocalStore) DeleteAudio(ctx context.Context, key string) error {
	path, err := s.path(s.audioDir, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) DeleteTranscript(ctx context.Context, key string) error {
	path, err := s.path(s.transcriptDir, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) ListTranscripts(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.Walk(s.transcriptDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.transcriptDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list transcripts: %w", err)
	}
	return out, nil
}

func (s *LocalStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	path, err := s.path(s.transcriptDir, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	logger.Debug("Issued local presigned URL", "key", key)
	return "file://" + filepath.ToSlash(abs), nil
}
