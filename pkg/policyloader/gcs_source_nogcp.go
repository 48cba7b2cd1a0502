//go:build !gcp

package policyloader

import (
	"context"
	"fmt"
)

func newGCSSource(_ context.Context, bucket, object string) (Source, error) {
	return nil, fmt.Errorf("%w: gs://%s/%s: GCS sources are not enabled in this build (use -tags gcp)", ErrUnknownSource, bucket, object)
}
