package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
)

// objectPrefix is where published subtitles live in the bucket.
const objectPrefix = "subtitles"

// Storage mirrors published cache entries to object storage
type Storage struct {
	client     *minio.Client
	bucketName string
	logger     *logging.Logger
}

// New creates a new storage client
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		logger:     logger.WithComponent("storage"),
	}, nil
}

// Mirror uploads a published cache file. It satisfies cache.Mirror.
func (s *Storage) Mirror(ctx context.Context, name, filePath string) error {
	start := time.Now()
	key := ObjectName(name)

	var size int64
	if info, err := os.Stat(filePath); err == nil {
		size = info.Size()
	}

	_, err := s.client.FPutObject(ctx, s.bucketName, key, filePath, minio.PutObjectOptions{
		ContentType: getContentType(name),
	})
	s.logger.LogStorageOperation("mirror", s.bucketName, key, size, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	return nil
}

// ObjectName is the bucket key of a cache entry.
func ObjectName(name string) string {
	return path.Join(objectPrefix, strings.ReplaceAll(name, "/", ""))
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".ass", ".ssa":
		return "text/x-ssa"
	default:
		return "application/octet-stream"
	}
}
