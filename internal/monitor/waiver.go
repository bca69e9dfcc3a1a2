package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dedup"
	"github.com/gridironhq/huddle/internal/metrics"
)

// WaiverResult is the outcome of one processed waiver claim.
type WaiverResult struct {
	ClaimID    string
	UserID     uuid.UUID
	League     string
	PlayerName string
	Won        bool
	Detail     string // e.g. losing bid amount or the winning manager
}

// WaiverSource provides recently processed waiver claims.
type WaiverSource interface {
	RecentResults(ctx context.Context) ([]WaiverResult, error)
}

const waiverDedupWindow = 48 * time.Hour

// WaiverMonitor tells users whether their claims went through.
type WaiverMonitor struct {
	source   WaiverSource
	notifier *Notifier
	guard    *dedup.Guard
	logger   *zap.Logger
}

func NewWaiverMonitor(source WaiverSource, notifier *Notifier, guard *dedup.Guard, logger *zap.Logger) *WaiverMonitor {
	return &WaiverMonitor{
		source:   source,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
	}
}

func (m *WaiverMonitor) Run(ctx context.Context) error {
	results, err := m.source.RecentResults(ctx)
	if err != nil {
		return fmt.Errorf("fetch waiver results: %w", err)
	}

	for _, result := range results {
		condition := "waiver_result:" + result.ClaimID
		subject := result.UserID.String()
		if !m.guard.ShouldNotify(ctx, subject, condition, waiverDedupWindow) {
			metrics.RecordDedupSuppressed("waiver")
			continue
		}

		title := fmt.Sprintf("Waiver claim won: %s", result.PlayerName)
		if !result.Won {
			title = fmt.Sprintf("Waiver claim lost: %s", result.PlayerName)
		}

		_, err := m.notifier.Publish(ctx, Alert{
			UserID:   result.UserID,
			Type:     db.TypeWaiverResult,
			Priority: 3,
			Title:    title,
			Message:  result.Detail,
			Payload: mustPayload(map[string]any{
				"claim_id": result.ClaimID,
				"league":   result.League,
				"won":      result.Won,
			}),
		})
		if err != nil {
			m.logger.Error("failed to publish waiver alert",
				zap.String("claim_id", result.ClaimID),
				zap.Error(err),
			)
			continue
		}
		m.guard.Record(ctx, subject, condition, waiverDedupWindow)
	}
	return nil
}
