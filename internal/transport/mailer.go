// Package transport wraps the SMTP layer behind a Mailer interface so
// the dispatch loop never touches the wire protocol directly.
package transport

import (
	"context"
	"errors"
	"net/textproto"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/bulkmailer/campaign-engine/internal/config"
	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/metrics"
)

type Message struct {
	FromEmail string
	FromName  string
	ToEmail   string
	ToName    string
	Subject   string
	Body      string
}

type Result struct {
	MessageID string
	Response  string
}

// Mailer is the external mail-transport contract: verify the connection
// before a run, then send one message per call. Both honor the context
// deadline.
type Mailer interface {
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// SMTPMailer sends through gomail. Each call dials, sends and closes;
// the dialer carries the credentials.
type SMTPMailer struct {
	dialer *gomail.Dialer
	logger *zap.Logger
}

func NewSMTPMailer(cfg config.SMTP, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		logger: logger,
	}
}

// Verify dials and immediately closes, proving the handshake and
// credentials work before a run commits to SENDING.
func (m *SMTPMailer) Verify(ctx context.Context) error {
	err := m.withTimeout(ctx, func() error {
		sc, err := m.dialer.Dial()
		if err != nil {
			return err
		}
		return sc.Close()
	})
	if err != nil {
		metrics.MailVerifyFailure.WithLabelValues(m.dialer.Host).Inc()
		m.logger.Warn("transport verification failed",
			zap.String("host", m.dialer.Host), zap.Error(err))
		return wrap(err, "verify")
	}
	return nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg *Message) (*Result, error) {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	gm.SetAddressHeader("To", msg.ToEmail, msg.ToName)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.Body)

	err := m.withTimeout(ctx, func() error {
		return m.dialer.DialAndSend(gm)
	})
	if err != nil {
		return nil, wrap(err, "send")
	}
	return &Result{
		MessageID: uuid.NewString(),
		Response:  "250 accepted",
	}, nil
}

// withTimeout runs fn and gives up when the context expires. The SMTP
// conversation itself cannot be interrupted mid-command, so an expired
// context abandons the connection to be closed by the runtime.
func (m *SMTPMailer) withTimeout(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wrap lifts SMTP protocol errors into the typed TransportError so the
// worker can classify the outcome by reply code.
func wrap(err error, command string) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return appErrors.NewTransport(proto.Code, command, err)
	}
	return appErrors.NewTransport(0, command, err)
}

var _ Mailer = (*SMTPMailer)(nil)
