package mailer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ridhamxdev/TaskNexus/internal/config"
)

// Transport delivers one rendered message. Implementations must honor ctx
// cancellation so callers can bound each attempt.
type Transport interface {
	Deliver(ctx context.Context, to, subject, text, html string) error
}

// New picks the transport configured by cfg.Driver.
func New(cfg config.SMTPConfig, log logrus.FieldLogger) (Transport, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTP(cfg)
	case "log":
		return NewLog(log), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
	}
}

// Log writes messages to the logger instead of sending them.
type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log.WithField("component", "mailer")}
}

func (l *Log) Deliver(ctx context.Context, to, subject, text, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{
		"to":       to,
		"subject":  subject,
		"has_html": html != "",
		"bytes":    len(text),
	}).Info("mail delivered to log")
	return nil
}
