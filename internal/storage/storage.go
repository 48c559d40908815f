// Package storage provides the per-job frame workspace on local disk and
// optional publication of finished outputs to S3.
package storage

import (
	"context"
	"errors"
)

// ErrS3NotConfigured is returned when publication is requested without a
// configured bucket.
var ErrS3NotConfigured = errors.New("storage: S3 is not configured")

// Publisher uploads a finished output file and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, key, path string) (url string, err error)
}
