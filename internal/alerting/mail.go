package alerting

import (
	"context"
	"fmt"

	"github.com/dirsentry/dirsentry/config"
	"github.com/dirsentry/dirsentry/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

// MailSink delivers alerts to operators by email.
type MailSink struct {
	conf config.SmtpConfig
	send func(...*gomail.Message) error
}

func NewMailSink(conf config.SmtpConfig) *MailSink {
	dialer := gomail.NewDialer(conf.Host, conf.Port, conf.Username, conf.Password)
	return &MailSink{conf: conf, send: dialer.DialAndSend}
}

func (s *MailSink) Deliver(ctx context.Context, alert *domain.MonAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode alert")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.conf.From)
	m.SetHeader("To", s.conf.To...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s on %s", alert.Severity, alert.Category, alert.NodeName))
	m.SetBody("text/plain", fmt.Sprintf("%s\n\n%s", alert.Message, string(body)))
	if err := s.send(m); err != nil {
		return errors.Wrap(err, "send alert mail")
	}
	return nil
}

// LogSink writes alerts to the structured log. Used when no SMTP host
// is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, alert *domain.MonAlert) error {
	zap.L().Info("ALERT",
		zap.Int64("id", alert.ID),
		zap.String("node", alert.NodeName),
		zap.String("category", alert.Category),
		zap.String("severity", alert.Severity),
		zap.Int("occurrences", alert.OccurrenceCount),
		zap.String("message", alert.Message),
	)
	return nil
}
