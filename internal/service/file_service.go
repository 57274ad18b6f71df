package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileService owns the scratch filesystem work the request handlers need:
// spooling uploads to disk before they hit the blob store or the live
// engine.
type FileService interface {
	// SaveUpload writes the multipart file into destDir under a unique
	// name and returns the path.
	SaveUpload(file *multipart.FileHeader, destDir string) (string, error)
	CreateDirectory(path string) error
	RemoveFile(path string) error
	RemoveDirectory(path string) error
}

type fileService struct{}

// NewFileService builds the filesystem helper.
func NewFileService() FileService {
	return &fileService{}
}

func (s *fileService) SaveUpload(fileHeader *multipart.FileHeader, destDir string) (string, error) {
	if err := s.CreateDirectory(destDir); err != nil {
		return "", err
	}

	filename := uuid.New().String() + filepath.Ext(fileHeader.Filename)
	filePath := filepath.Join(destDir, filename)

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer dst.Close()

	if _, err = io.Copy(dst, src); err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return filePath, nil
}

func (s *fileService) CreateDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

func (s *fileService) RemoveFile(path string) error {
	return os.Remove(path)
}

func (s *fileService) RemoveDirectory(path string) error {
	return os.RemoveAll(path)
}
