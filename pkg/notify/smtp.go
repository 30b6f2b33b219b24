// pkg/notify/smtp.go
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/config"
)

const smtpDialTimeout = 30 * time.Second

// SMTPNotifier sends mail over an implicit TLS connection, as Gmail expects on port 465
type SMTPNotifier struct {
	host     string
	port     int
	sender   string
	receiver string
	password string
	logger   *zap.Logger
}

// NewSMTPNotifier validates the SMTP settings
func NewSMTPNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Sender == "" || cfg.Receiver == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: smtp needs EMAIL_SENDER, EMAIL_RECEIVER and EMAIL_PASSWORD", ErrMissingCredentials)
	}
	if cfg.SMTPHost == "" || cfg.SMTPPort <= 0 {
		return nil, fmt.Errorf("invalid smtp address %s:%d", cfg.SMTPHost, cfg.SMTPPort)
	}
	return &SMTPNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		sender:   cfg.Sender,
		receiver: cfg.Receiver,
		password: cfg.Password,
		logger:   logger,
	}, nil
}

// Notify sends msg to the configured receiver
func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(n.host, fmt.Sprintf("%d", n.port))

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: smtpDialTimeout},
		Config:    &tls.Config{ServerName: n.host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", n.sender, n.password, n.host)); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}
	if err := client.Mail(n.sender); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(n.receiver); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(n.compose(msg)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	if err := client.Quit(); err != nil {
		n.logger.Warn("SMTP quit failed", zap.Error(err))
	}

	n.logger.Info("Email notification sent",
		zap.String("channel", "smtp"),
		zap.String("receiver", n.receiver))
	return nil
}

func (n *SMTPNotifier) compose(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + n.sender + "\r\n")
	b.WriteString("To: " + n.receiver + "\r\n")
	b.WriteString("Subject: " + Subject(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
