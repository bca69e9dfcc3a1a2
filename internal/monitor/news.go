package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dedup"
	"github.com/gridironhq/huddle/internal/metrics"
)

// NewsItem is one story about a rostered player.
type NewsItem struct {
	Source     string
	Headline   string
	Summary    string
	URL        string
	PlayerID   string
	PlayerName string
	OwnerIDs   []uuid.UUID
}

// NewsSource provides recent stories relevant to rostered players.
type NewsSource interface {
	RecentItems(ctx context.Context) ([]NewsItem, error)
}

const (
	newsDedupWindow    = 24 * time.Hour
	headlinePrefixSize = 48
)

// newsSignature derives the dedup condition from the headline prefix and
// the source, so near-identical follow-ups within the window collapse.
func newsSignature(item NewsItem) string {
	headline := strings.ToLower(strings.TrimSpace(item.Headline))
	if len(headline) > headlinePrefixSize {
		headline = headline[:headlinePrefixSize]
	}
	return "news:" + strings.ToLower(item.Source) + ":" + headline
}

// NewsMonitor alerts owners about breaking stories on their players.
type NewsMonitor struct {
	source   NewsSource
	notifier *Notifier
	guard    *dedup.Guard
	logger   *zap.Logger
}

func NewNewsMonitor(source NewsSource, notifier *Notifier, guard *dedup.Guard, logger *zap.Logger) *NewsMonitor {
	return &NewsMonitor{
		source:   source,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
	}
}

func (m *NewsMonitor) Run(ctx context.Context) error {
	items, err := m.source.RecentItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch news items: %w", err)
	}

	for _, item := range items {
		condition := newsSignature(item)
		if !m.guard.ShouldNotify(ctx, item.PlayerID, condition, newsDedupWindow) {
			metrics.RecordDedupSuppressed("news")
			continue
		}

		published := 0
		for _, ownerID := range item.OwnerIDs {
			_, err := m.notifier.Publish(ctx, Alert{
				UserID:   ownerID,
				Type:     db.TypeBreakingNews,
				Priority: 3,
				Title:    item.Headline,
				Message:  item.Summary,
				Payload: mustPayload(map[string]string{
					"player_id": item.PlayerID,
					"source":    item.Source,
					"url":       item.URL,
				}),
			})
			if err != nil {
				m.logger.Error("failed to publish news alert",
					zap.String("player_id", item.PlayerID),
					zap.String("user_id", ownerID.String()),
					zap.Error(err),
				)
				continue
			}
			published++
		}
		if published > 0 {
			m.guard.Record(ctx, item.PlayerID, condition, newsDedupWindow)
		}
	}
	return nil
}
