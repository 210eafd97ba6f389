package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"imageforge/repository"
)

const purgeRetention = 7 * 24 * time.Hour

// PurgeDeletedImages removes soft-deleted images past the retention
// window and their archived S3 objects. S3 failures are logged and
// skipped; the rows are already gone and the purge runs again tomorrow.
func PurgeDeletedImages(ctx context.Context, images repository.ImageRepo, archiver *Archiver, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	keys, err := images.PurgeDeletedBefore(ctx, time.Now().Add(-purgeRetention))
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		log.Debug().Msg("no deleted images to purge")
		return nil
	}

	for _, key := range keys {
		if archiver == nil {
			continue
		}
		if err := archiver.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("s3_key", key).Msg("failed to delete archived image")
		}
	}

	log.Info().Int("purged", len(keys)).Msg("purged soft-deleted images")
	return nil
}

// StartPurgeLoop runs PurgeDeletedImages daily until ctx is canceled.
func StartPurgeLoop(ctx context.Context, images repository.ImageRepo, archiver *Archiver, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if err := PurgeDeletedImages(ctx, images, archiver, log); err != nil {
			log.Error().Err(err).Msg("image purge failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
