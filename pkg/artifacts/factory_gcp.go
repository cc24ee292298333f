//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARTIFACTS_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACTS_GCS_BUCKET is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ARTIFACTS_GCS_PREFIX"),
	})
}
