package artifacts

import (
	"context"
	"fmt"
	"os"
)

// Backend selects the artifact storage implementation.
type Backend string

const (
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
	BackendGCS  Backend = "gcs"
)

// NewStoreFromEnv creates an artifact store based on environment
// variables.
//
// Environment variables:
//   - ARTIFACTS_BACKEND: "file" (default), "s3", or "gcs"
//   - ARTIFACTS_DIR: base directory for the file backend (default: "data/artifacts")
//
// For S3:
//   - ARTIFACTS_S3_BUCKET (required)
//   - ARTIFACTS_S3_REGION or AWS_REGION
//   - ARTIFACTS_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - ARTIFACTS_S3_PREFIX (optional)
//
// For GCS (requires -tags gcp):
//   - ARTIFACTS_GCS_BUCKET (required)
//   - ARTIFACTS_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := Backend(os.Getenv("ARTIFACTS_BACKEND"))
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		return newFileStoreFromEnv()
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported artifacts backend: %s", backend)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dir := os.Getenv("ARTIFACTS_DIR")
	if dir == "" {
		dir = "data/artifacts"
	}
	return NewFileStore(dir)
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARTIFACTS_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACTS_S3_BUCKET is required for the s3 backend")
	}

	region := os.Getenv("ARTIFACTS_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ARTIFACTS_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARTIFACTS_S3_PREFIX"),
	})
}
