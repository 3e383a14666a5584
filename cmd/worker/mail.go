package main

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"github.com/shivam349/codex1/internal/notify"
)

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

var verifyText = template.Must(template.New("verify.txt").Parse(`Hi {{.Name}},

Thanks for signing up with {{.Shop}}. Confirm your e-mail address by opening the link below:

{{.URL}}

The link expires in 24 hours. If you did not create an account you can ignore this message.
`))

var verifyHTML = htmltemplate.Must(htmltemplate.New("verify.html").Parse(`<p>Hi {{.Name}},</p>
<p>Thanks for signing up with {{.Shop}}. Confirm your e-mail address:</p>
<p><a href="{{.URL}}">Verify my e-mail</a></p>
<p>The link expires in 24 hours. If you did not create an account you can ignore this message.</p>
`))

// renderVerification builds the verification e-mail for msg.
func renderVerification(shop string, msg notify.VerificationMessage) (Mail, error) {
	name := msg.Name
	if name == "" {
		name = "there"
	}
	data := struct{ Name, Shop, URL string }{name, shop, msg.VerifyURL}

	var text, html bytes.Buffer
	if err := verifyText.Execute(&text, data); err != nil {
		return Mail{}, fmt.Errorf("render text: %w", err)
	}
	if err := verifyHTML.Execute(&html, data); err != nil {
		return Mail{}, fmt.Errorf("render html: %w", err)
	}
	return Mail{
		To:      msg.Email,
		Subject: "Verify your email - " + shop,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// smtpTimeout bounds the dial and each SMTP command.
const smtpTimeout = 15 * time.Second

// smtpSender is the part of *mail.Client the mailer uses.
type smtpSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer sends through an SMTP relay.
type SMTPMailer struct {
	client smtpSender
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: from}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	msg, err := buildMessage(s.from, m)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.To, err)
	}
	return nil
}

// buildMessage renders m as a text message with an HTML alternative.
func buildMessage(from string, m Mail) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address %q: %w", from, err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("to address %q: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	return msg, nil
}

// logMailer is used when no SMTP host is configured.
type logMailer struct {
	log logrus.FieldLogger
}

func (l logMailer) Send(_ context.Context, m Mail) error {
	l.log.WithFields(logrus.Fields{"to": m.To, "subject": m.Subject}).Info("mail (not sent, no SMTP host)")
	return nil
}
