// pkg/notify/notify.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

// SubjectPrefix is prepended to every notification subject
const SubjectPrefix = "[ETL Pipeline]"

// ErrMissingCredentials is returned when a channel is selected without the settings it needs
var ErrMissingCredentials = errors.New("missing notification credentials")

// Message is a plain-text notification
type Message struct {
	Subject string
	Body    string
}

// Notifier sends a message to its channel
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Subject returns the prefixed subject line
func Subject(s string) string {
	if strings.HasPrefix(s, SubjectPrefix) {
		return s
	}
	return SubjectPrefix + " " + s
}

// New creates the notifier selected by cfg.Channel. A channel missing its
// credentials still builds: the report goes to the log and every send fails
// with ErrMissingCredentials, so the run itself is unaffected.
func New(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	var (
		n   Notifier
		err error
	)
	switch strings.ToLower(cfg.Channel) {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "smtp":
		var smtpNotifier *SMTPNotifier
		if smtpNotifier, err = NewSMTPNotifier(cfg, logger); err == nil {
			n = smtpNotifier
		}
	case "ses":
		var sesNotifier *SESNotifier
		if sesNotifier, err = NewSESNotifier(ctx, cfg, logger); err == nil {
			n = sesNotifier
		}
	default:
		return nil, fmt.Errorf("unsupported notification channel: %s", cfg.Channel)
	}

	if errors.Is(err, ErrMissingCredentials) {
		logger.Warn("Missing email credentials, reports will only be logged",
			zap.String("channel", cfg.Channel),
			zap.Error(err))
		return &unconfiguredNotifier{log: NewLogNotifier(logger), err: err}, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// unconfiguredNotifier stands in for a channel that cannot send
type unconfiguredNotifier struct {
	log *LogNotifier
	err error
}

func (n *unconfiguredNotifier) Notify(ctx context.Context, msg Message) error {
	_ = n.log.Notify(ctx, msg)
	return n.err
}

// LogNotifier writes messages to the logger
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the message
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("Pipeline notification",
		zap.String("subject", Subject(msg.Subject)),
		zap.String("body", msg.Body))
	return nil
}
