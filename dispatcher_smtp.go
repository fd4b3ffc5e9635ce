package admission

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/wneessen/go-mail"
)

// SMTPDispatcher delivers emails through an SMTP relay as
// multipart/alternative messages.
type SMTPDispatcher struct {
	relay string
	from  string
	send  func(ctx context.Context, msgs ...*mail.Msg) error
	now   func() time.Time
}

var _ Dispatcher = (*SMTPDispatcher)(nil)

// NewSMTPDispatcher creates a dispatcher from the SMTP settings of cfg.
// Relays that offer STARTTLS are used over TLS.
func NewSMTPDispatcher(cfg *Config) (*SMTPDispatcher, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid smtp settings").
			WithMetadata(map[string]any{"host": cfg.SMTPHost, "port": cfg.SMTPPort})
	}

	return &SMTPDispatcher{
		relay: cfg.SMTPHost,
		from:  cfg.SMTPFrom,
		send:  client.DialAndSendWithContext,
		now:   time.Now,
	}, nil
}

// Send implements Dispatcher.
func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, html, text string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled before sending email")
	default:
	}

	msg, err := d.compose(to, subject, html, text)
	if err != nil {
		return false, err
	}

	if err := d.send(ctx, msg); err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send email").
			WithMetadata(map[string]any{"to": to, "relay": d.relay})
	}
	return true, nil
}

func (d *SMTPDispatcher) compose(to, subject, html, text string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(d.from); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid sender address").
			WithMetadata(map[string]any{"from": d.from})
	}
	if err := msg.To(to); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipient address").
			WithMetadata(map[string]any{"to": to})
	}
	msg.Subject(subject)
	msg.SetDateWithValue(d.now())
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}
