// Package storage holds evidence files. Uploads come from the evidence
// endpoint; downloads feed image analysis.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned when a storage path does not exist
var ErrFileNotFound = errors.New("storage: file not found")

// Storage interface for evidence file operations
type Storage interface {
	// Upload stores a file and returns the storage path
	Upload(ctx context.Context, evidenceID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path
	Delete(ctx context.Context, storagePath string) error
}

// Type represents the storage backend type
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// Config holds configuration for storage
type Config struct {
	Type         Type
	LocalPath    string
	S3Bucket     string
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
}

// New creates a storage backend for the given configuration
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeLocal:
		return NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("storage: AWS_S3_BUCKET is required for s3 storage")
		}
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// ConfigFromEnv reads the storage configuration from environment variables
func ConfigFromEnv() Config {
	cfg := Config{
		Type:         Type(os.Getenv("STORAGE_TYPE")),
		LocalPath:    os.Getenv("STORAGE_LOCAL_PATH"),
		S3Bucket:     os.Getenv("AWS_S3_BUCKET"),
		S3Region:     os.Getenv("AWS_REGION"),
		AWSAccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
	if cfg.Type == "" {
		cfg.Type = TypeLocal
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = "./storage/evidence"
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}
	return cfg
}

// NewFromEnv creates a storage backend from environment variables
func NewFromEnv(ctx context.Context) (Storage, error) {
	return New(ctx, ConfigFromEnv())
}

// evidencePath builds a unique storage path for an evidence file,
// sharded by the first two characters of the evidence ID.
func evidencePath(evidenceID uuid.UUID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(base)

	id := evidenceID.String()
	return fmt.Sprintf("%s/%s_%s%s", id[:2], id, base, ext)
}

// ContentType determines the MIME type of an evidence file from its name
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
