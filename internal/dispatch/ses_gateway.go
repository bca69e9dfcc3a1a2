package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
)

// SESGateway delivers the email channel via AWS SES.
type SESGateway struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESGateway creates an SES-backed email gateway.
func NewSESGateway(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESGateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SES: %w", err)
	}
	return &SESGateway{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (g *SESGateway) Channel() db.Channel {
	return db.ChannelEmail
}

// Send delivers one alert as a plain-text email.
func (g *SESGateway) Send(ctx context.Context, d Delivery) error {
	if d.Email == "" {
		return Permanent(fmt.Errorf("no email address on file for user %s", d.UserID))
	}

	input := &ses.SendEmailInput{
		Source: aws.String(g.from),
		Destination: &types.Destination{
			ToAddresses: []string{d.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(d.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(d.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return classifySESError(err)
	}

	g.logger.Info("email sent via SES",
		zap.String("notification_id", d.NotificationID),
		zap.String("to", d.Email),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// classifySESError separates address/content rejections (permanent) from
// throttling and transport failures (retryable).
func classifySESError(err error) error {
	var rejected *types.MessageRejected
	var notVerified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &rejected) || errors.As(err, &notVerified) {
		return Permanent(fmt.Errorf("ses send rejected: %w", err))
	}
	return fmt.Errorf("ses send failed: %w", err)
}
