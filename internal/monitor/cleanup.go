package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CleanupStore is the slice of the store the retention job needs.
type CleanupStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleanup hard-deletes notifications older than the retention window.
// Queue entries cascade with their notification.
type Cleanup struct {
	store     CleanupStore
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewCleanup(store CleanupStore, retention time.Duration, logger *zap.Logger) *Cleanup {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Cleanup{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (c *Cleanup) Run(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)
	deleted, err := c.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge notifications: %w", err)
	}
	if deleted > 0 {
		c.logger.Info("retention cleanup completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
