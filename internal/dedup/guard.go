// Package dedup suppresses repeat alerts about the same real-world event
// within a rolling window. Keys are (subject, condition) pairs; for
// injury alerts the condition includes the status value, so a transition
// to a different status always fires.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Guard remembers recently notified (subject, condition) pairs.
//
// With a redis client the state survives restarts (TTL keys). Without
// one it runs on an in-process expiring map: a restart then allows at
// most one duplicate alert per pair, which is an accepted limitation.
//
// Any guard failure defaults to "allow notify": a duplicate alert is
// preferable to a silently suppressed real one.
type Guard struct {
	rdb    *redis.Client
	local  *gocache.Cache
	logger *zap.Logger
}

// NewGuard creates a dedup guard. rdb may be nil for in-memory mode.
func NewGuard(rdb *redis.Client, logger *zap.Logger) *Guard {
	return &Guard{
		rdb:    rdb,
		local:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		logger: logger,
	}
}

func key(subject, condition string) string {
	return fmt.Sprintf("dedup:%s:%s", subject, condition)
}

// ShouldNotify reports whether an alert for (subject, condition) may fire,
// i.e. no alert for the pair was recorded within the window.
func (g *Guard) ShouldNotify(ctx context.Context, subject, condition string, window time.Duration) bool {
	if window <= 0 {
		// Clock skew or misconfiguration; fail open.
		return true
	}

	k := key(subject, condition)

	if g.rdb != nil {
		_, err := g.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return true
		}
		if err != nil {
			g.logger.Warn("dedup check failed, allowing notify",
				zap.String("key", k), zap.Error(err))
			return true
		}
		return false
	}

	lastSeen, found := g.local.Get(k)
	if !found {
		return true
	}
	// Per-call windows can be shorter than the recorded TTL.
	if ts, ok := lastSeen.(time.Time); ok && time.Since(ts) >= window {
		return true
	}
	return false
}

// Record marks (subject, condition) as notified. The entry expires after
// the window; repeated records refresh it.
func (g *Guard) Record(ctx context.Context, subject, condition string, window time.Duration) {
	if window <= 0 {
		return
	}

	k := key(subject, condition)

	if g.rdb != nil {
		now := strconv.FormatInt(time.Now().Unix(), 10)
		if err := g.rdb.Set(ctx, k, now, window).Err(); err != nil {
			g.logger.Warn("dedup record failed",
				zap.String("key", k), zap.Error(err))
		}
		return
	}

	g.local.Set(k, time.Now(), window)
}
