// Package notify emails subscribers when their region's readings warrant it.
package notify

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/resilience"
)

// Message is a plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Bytes renders the message as an RFC 5322 document with CRLF line endings.
func (m Message) Bytes() []byte {
	var b strings.Builder
	writeHeader(&b, "From", m.From)
	writeHeader(&b, "To", strings.Join(m.To, ", "))
	writeHeader(&b, "Subject", mime.QEncoding.Encode("utf-8", headerNewlines.Replace(m.Subject)))
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

var headerNewlines = strings.NewReplacer("\r", "", "\n", "")

func writeHeader(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%s: %s\r\n", key, headerNewlines.Replace(value))
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPOptions configures an SMTPMailer.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Retry    resilience.RetryConfig
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends through an SMTP relay. Temporary failures are retried.
type SMTPMailer struct {
	opts SMTPOptions
	addr string
	auth smtp.Auth
	send sendFunc
}

// NewSMTPMailer creates an SMTPMailer. PLAIN auth is used when a username is
// configured.
func NewSMTPMailer(opts SMTPOptions) *SMTPMailer {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("notify", "smtp send")
	}

	m := &SMTPMailer{
		opts: opts,
		addr: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		send: smtp.SendMail,
	}
	if opts.Username != "" {
		m.auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	return m
}

// Send delivers msg, retrying temporary SMTP and network failures.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return eris.New("notify: message has no recipients")
	}
	data := msg.Bytes()
	err := resilience.Do(ctx, m.opts.Retry, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return m.send(m.addr, m.auth, msg.From, msg.To, data)
	})
	return eris.Wrapf(err, "notify: smtp send to %s", strings.Join(msg.To, ","))
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

// Send logs msg.
func (LogMailer) Send(_ context.Context, msg Message) error {
	zap.L().Info("email",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
