package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"scribeflow/pkg/logger"
)

// RemoteConfig carries the connection parameters for the S3-compatible
// backend.
type RemoteConfig struct {
	Endpoint          string
	Region            string
	AccessKey         string
	SecretKey         string
	UseTLS            bool
	AudioBucket       string
	TranscriptsBucket string
	// FallbackDir is where objects land if the endpoint turns out to be
	// unreachable and the store downgrades to the local backend.
	FallbackDir string
}

// RemoteStore talks to an S3-compatible object store. If the endpoint is
// unreachable on first probe it downgrades to a LocalStore for the process
// lifetime; the downgrade is logged once and invisible to callers.
type RemoteStore struct {
	client  *minio.Client
	cfg     RemoteConfig
	local   *LocalStore
	useLocal atomic.Bool

	bucketOnce  sync.Mutex
	bucketReady bool
}

// NewRemoteStore builds the client. The endpoint is not probed here; the
// first EnsureBuckets call decides whether the remote is usable.
func NewRemoteStore(cfg RemoteConfig) (*RemoteStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}
	return &RemoteStore{
		client: client,
		cfg:    cfg,
		local:  NewLocalStore(cfg.FallbackDir),
	}, nil
}

// EnsureBuckets creates missing buckets idempotently. The probe runs under
// a mutex so concurrent first callers perform it once.
func (s *RemoteStore) EnsureBuckets(ctx context.Context) error {
	if s.useLocal.Load() {
		return s.local.EnsureBuckets(ctx)
	}

	s.bucketOnce.Lock()
	defer s.bucketOnce.Unlock()
	if s.bucketReady {
		return nil
	}

	for _, bucket := range []string{s.cfg.AudioBucket, s.cfg.TranscriptsBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			s.downgrade(err)
			return s.local.EnsureBuckets(ctx)
		}
		if exists {
			continue
		}
		err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
		if err != nil {
			// Another process may have created it between the probe and
			// the call.
			if again, checkErr := s.client.BucketExists(ctx, bucket); checkErr == nil && again {
				continue
			}
			s.downgrade(err)
			return s.local.EnsureBuckets(ctx)
		}
		logger.Info("Created bucket", "bucket", bucket)
	}
	s.bucketReady = true
	return nil
}

// downgrade switches all subsequent operations to the local backend for
// the process lifetime.
func (s *RemoteStore) downgrade(cause error) {
	if s.useLocal.CompareAndSwap(false, true) {
		logger.Warn("Object store unreachable, falling back to local filesystem storage",
			"endpoint", s.cfg.Endpoint, "dir", s.cfg.FallbackDir, "error", cause)
	}
}

func (s *RemoteStore) UploadAudio(ctx context.Context, r io.Reader, size int64, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if s.useLocal.Load() {
		return s.local.UploadAudio(ctx, r, size, key)
	}
	_, err := s.client.PutObject(ctx, s.cfg.AudioBucket, key, r, size, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("storage: upload audio %s: %w", key, err)
	}
	return key, nil
}

func (s *RemoteStore) UploadTranscript(ctx context.Context, text string, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if s.useLocal.Load() {
		return s.local.UploadTranscript(ctx, text, key)
	}
	reader := strings.NewReader(text)
	_, err := s.client.PutObject(ctx, s.cfg.TranscriptsBucket, key, reader, int64(reader.Len()),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("storage: upload transcript %s: %w", key, err)
	}
	return key, nil
}

func (s *RemoteStore) DownloadAudio(ctx context.Context, key, dest string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if s.useLocal.Load() {
		return s.local.DownloadAudio(ctx, key, dest)
	}
	obj, err := s.client.GetObject(ctx, s.cfg.AudioBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("storage: download audio %s: %w", key, err)
	}
	defer obj.Close()
	if err := writeAtomic(dest, obj); err != nil {
		return fmt.Errorf("storage: download audio %s: %w", key, err)
	}
	return nil
}

func (s *RemoteStore) DownloadTranscript(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if s.useLocal.Load() {
		return s.local.DownloadTranscript(ctx, key)
	}
	obj, err := s.client.GetObject(ctx, s.cfg.TranscriptsBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("storage: download transcript %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return "", nil
		}
		return "", fmt.Errorf("storage: download transcript %s: %w", key, err)
	}
	return string(data), nil
}

func (s *RemoteStore) DeleteAudio(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if s.useLocal.Load() {
		return s.local.DeleteAudio(ctx, key)
	}
	return s.client.RemoveObject(ctx, s.cfg.AudioBucket, key, minio.RemoveObjectOptions{})
}

func (s *RemoteStore) DeleteTranscript(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if s.useLocal.Load() {
		return s.local.DeleteTranscript(ctx, key)
	}
	return s.client.RemoveObject(ctx, s.cfg.TranscriptsBucket, key, minio.RemoveObjectOptions{})
}

func (s *RemoteStore) ListTranscripts(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if s.useLocal.Load() {
		return s.local.ListTranscripts(ctx, prefix)
	}
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.cfg.TranscriptsBucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("storage: list transcripts: %w", obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified})
	}
	return out, nil
}

func (s *RemoteStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if s.useLocal.Load() {
		return s.local.PresignedURL(ctx, key, ttl)
	}
	signed, err := s.client.PresignedGetObject(ctx, s.cfg.TranscriptsBucket, key, ttl, url.Values{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return "", nil
		}
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return signed.String(), nil
}

// SelectStore picks a backend from configuration: a remote store when an
// endpoint is configured, otherwise the local filesystem store.
func SelectStore(endpoint string, remote RemoteConfig, localDir string) (ArtifactStore, error) {
	if endpoint == "" {
		if err := os.MkdirAll(localDir, 0o755); err != nil {
			return nil, err
		}
		return NewLocalStore(localDir), nil
	}
	return NewRemoteStore(remote)
}
