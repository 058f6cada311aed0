package account

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	gosmtp "net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const (
	smtpDialTimeout = 10 * time.Second
	smtpImplicitTLS = 465
)

// Mailer delivers a plain text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer returns an SMTP mailer, or a LogMailer when no host is
// configured.
func NewMailer(cfg config.MailConfig, logger observability.Logger) Mailer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Host == "" {
		return NewLogMailer(logger)
	}
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// SMTPMailer sends through an SMTP relay. Port 465 uses implicit TLS;
// any other port upgrades with STARTTLS when the server offers it.
type SMTPMailer struct {
	cfg    config.MailConfig
	logger observability.Logger
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	msg := buildMessage(m.cfg.From, to, subject, body, time.Now())

	client, err := m.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Port != smtpImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starting TLS: %w", err)
			}
		}
	}

	if m.cfg.Username != "" {
		if err := client.Auth(gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	if err := sendMessage(client, m.cfg.From, to, msg); err != nil {
		return err
	}
	m.logger.Debug("mail sent", observability.String("subject", subject))
	return nil
}

func (m *SMTPMailer) dial(ctx context.Context, addr string) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: smtpDialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if m.cfg.Port == smtpImplicitTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return client, nil
}

func sendMessage(client *gosmtp.Client, from, to, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string, now time.Time) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.String()
}

// LogMailer drops messages and logs that it did. Bodies carry live
// credentials and are never logged.
type LogMailer struct {
	logger observability.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger observability.Logger) *LogMailer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Warn("mail host not configured, message dropped",
		observability.String("to", to),
		observability.String("subject", subject))
	return nil
}

// ActionLink returns baseURL+path with the Action JWT in the query string.
func ActionLink(baseURL, path, token string) string {
	q := url.Values{}
	q.Set(auth.QueryTokenAuth, token)
	return strings.TrimSuffix(baseURL, "/") + path + "?" + q.Encode()
}
