// Package events publishes terminal delivery outcomes to an SQS stream
// for downstream analytics. The stream is optional; a nil publisher is a
// no-op, so callers never need to branch on configuration.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds SQS settings for the outcome stream.
type Config struct {
	Region   string
	QueueURL string
}

// Outcome is one terminal delivery result (sent or failed).
type Outcome struct {
	NotificationID string `json:"notification_id"`
	Channel        string `json:"channel"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	Detail         string `json:"detail,omitempty"`
	OccurredAt     int64  `json:"occurred_at"`
}

// Publisher sends outcome events to SQS. Nil-safe: a nil *Publisher
// drops events silently.
type Publisher struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates an SQS publisher. Returns nil when no queue URL is
// configured (outcome stream disabled).
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.QueueURL == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SQS: %w", err)
	}

	logger.Info("delivery outcome publisher initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Publisher{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// PublishOutcome sends one outcome event.
func (p *Publisher) PublishOutcome(ctx context.Context, outcome Outcome) error {
	if p == nil {
		return nil
	}

	if outcome.OccurredAt == 0 {
		outcome.OccurredAt = time.Now().Unix()
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	return nil
}
