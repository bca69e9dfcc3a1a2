package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
)

// SNSGateway delivers the SMS channel via AWS SNS.
type SNSGateway struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSGateway creates an SNS-backed SMS gateway.
func NewSNSGateway(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSGateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &SNSGateway{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (g *SNSGateway) Channel() db.Channel {
	return db.ChannelSMS
}

// Send delivers one alert as an SMS. Title is prepended so short messages
// still carry the alert kind.
func (g *SNSGateway) Send(ctx context.Context, d Delivery) error {
	if d.PhoneNumber == "" {
		return Permanent(fmt.Errorf("no phone number on file for user %s", d.UserID))
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(d.PhoneNumber),
		Message:     aws.String(d.Title + ": " + d.Message),
	}

	result, err := g.client.Publish(ctx, input)
	if err != nil {
		return classifySNSError(err)
	}

	g.logger.Info("sms sent via SNS",
		zap.String("notification_id", d.NotificationID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// classifySNSError separates bad numbers and opted-out recipients
// (permanent) from throttling and transport failures (retryable).
func classifySNSError(err error) error {
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return Permanent(fmt.Errorf("sns publish rejected: %w", err))
	}
	return fmt.Errorf("sns publish failed: %w", err)
}
