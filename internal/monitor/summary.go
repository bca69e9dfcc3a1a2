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

// WeeklyRecap is one user's matchup recap for a completed week.
type WeeklyRecap struct {
	UserID   uuid.UUID
	Week     int
	Headline string
	Body     string
}

// SummarySource builds recaps for users subscribed to weekly summaries.
type SummarySource interface {
	WeeklyRecaps(ctx context.Context) ([]WeeklyRecap, error)
}

const summaryDedupWindow = 6 * 24 * time.Hour

// WeeklySummary sends matchup recaps once the send window opens. The task
// polls on an interval; the weekday/hour gate lives here.
type WeeklySummary struct {
	source   SummarySource
	notifier *Notifier
	guard    *dedup.Guard
	logger   *zap.Logger
	now      func() time.Time

	sendWeekday time.Weekday
	sendHour    int
}

// NewWeeklySummary gates sends to Tuesday morning, after Monday night
// games settle.
func NewWeeklySummary(source SummarySource, notifier *Notifier, guard *dedup.Guard, logger *zap.Logger) *WeeklySummary {
	return &WeeklySummary{
		source:      source,
		notifier:    notifier,
		guard:       guard,
		logger:      logger,
		now:         time.Now,
		sendWeekday: time.Tuesday,
		sendHour:    9,
	}
}

func (m *WeeklySummary) Run(ctx context.Context) error {
	now := m.now()
	if now.Weekday() != m.sendWeekday || now.Hour() != m.sendHour {
		return nil
	}

	recaps, err := m.source.WeeklyRecaps(ctx)
	if err != nil {
		return fmt.Errorf("build weekly recaps: %w", err)
	}

	for _, recap := range recaps {
		condition := fmt.Sprintf("weekly_summary:week_%d", recap.Week)
		subject := recap.UserID.String()
		if !m.guard.ShouldNotify(ctx, subject, condition, summaryDedupWindow) {
			metrics.RecordDedupSuppressed("summary")
			continue
		}

		_, err := m.notifier.Publish(ctx, Alert{
			UserID:   recap.UserID,
			Type:     db.TypeWeeklySummary,
			Priority: 1,
			Title:    recap.Headline,
			Message:  recap.Body,
			Payload:  mustPayload(map[string]int{"week": recap.Week}),
		})
		if err != nil {
			m.logger.Error("failed to publish weekly summary",
				zap.String("user_id", subject),
				zap.Int("week", recap.Week),
				zap.Error(err),
			)
			continue
		}
		m.guard.Record(ctx, subject, condition, summaryDedupWindow)
	}
	return nil
}
