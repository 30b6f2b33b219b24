// pkg/notify/ses.go
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

const defaultSESRegion = "us-east-1"

// SESAPI is the part of the SES client the notifier uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends mail through AWS SES
type SESNotifier struct {
	client   SESAPI
	sender   string
	receiver string
	logger   *zap.Logger
}

// NewSESNotifier builds an SES client from static credentials
func NewSESNotifier(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (*SESNotifier, error) {
	if cfg.SESAccessKey == "" || cfg.SESSecretKey == "" {
		return nil, fmt.Errorf("%w: ses needs AWS_SES_ACCESS_KEY and AWS_SES_SECRET_KEY", ErrMissingCredentials)
	}
	if cfg.Sender == "" || cfg.Receiver == "" {
		return nil, fmt.Errorf("%w: ses needs EMAIL_SENDER and EMAIL_RECEIVER", ErrMissingCredentials)
	}

	region := cfg.SESRegion
	if region == "" {
		region = defaultSESRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESNotifierWithClient(sesv2.NewFromConfig(awsCfg), cfg.Sender, cfg.Receiver, logger), nil
}

// NewSESNotifierWithClient wraps an existing SES client
func NewSESNotifierWithClient(client SESAPI, sender, receiver string, logger *zap.Logger) *SESNotifier {
	return &SESNotifier{
		client:   client,
		sender:   sender,
		receiver: receiver,
		logger:   logger,
	}
}

// Notify sends msg as a plain-text email
func (n *SESNotifier) Notify(ctx context.Context, msg Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.sender),
		Destination:      &types.Destination{ToAddresses: []string{n.receiver}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(Subject(msg.Subject)), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email via SES: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("Email notification sent",
		zap.String("channel", "ses"),
		zap.String("receiver", n.receiver),
		zap.String("message_id", messageID))
	return nil
}
