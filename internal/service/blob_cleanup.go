package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/pkg/jobs"
	"github.com/noah-isme/admission-portal-api/pkg/storage"
)

// JobTypeBlobDelete removes a blob that no document references any more.
const JobTypeBlobDelete = "blob.delete"

type blobDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// NewBlobCleanupHandler returns the queue handler for released document blobs.
func NewBlobCleanupHandler(blobs blobDeleter, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		if job.Type != JobTypeBlobDelete {
			return fmt.Errorf("unsupported job type %q", job.Type)
		}
		key, ok := job.Payload.(string)
		if !ok || key == "" {
			logger.Warn("dropping blob cleanup job without key", zap.String("job_id", job.ID))
			return nil
		}
		if err := blobs.DeleteObject(ctx, key); err != nil {
			if errors.Is(err, storage.ErrInvalidKey) {
				logger.Warn("dropping blob cleanup job with invalid key", zap.String("key", key))
				return nil
			}
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
		logger.Debug("blob released", zap.String("key", key), zap.Int("attempt", job.Attempt))
		return nil
	}
}
