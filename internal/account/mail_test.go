package account

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

// fakeSMTP accepts one plain SMTP session and records the envelope.
type fakeSMTP struct {
	ln   net.Listener
	wg   sync.WaitGroup
	from string
	rcpt string
	data string
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	s.wg.Add(1)
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	defer s.wg.Done()

	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250 fake")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.from = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
			reply("250 ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.rcpt = strings.Trim(cmd[len("RCPT TO:"):], "<> ")
			reply("250 ok")
		case upper == "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.data = b.String()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	srv := newFakeSMTP(t)

	m := NewMailer(config.MailConfig{
		Host: "127.0.0.1",
		Port: srv.port(),
		From: "no-reply@wikiclip.test",
	}, observability.NopLogger())
	require.IsType(t, &SMTPMailer{}, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, m.Send(ctx, "user@example.com", "Reset your password", "line one\nline two"))
	srv.wg.Wait()

	assert.Equal(t, "no-reply@wikiclip.test", srv.from)
	assert.Equal(t, "user@example.com", srv.rcpt)
	assert.Contains(t, srv.data, "Subject: Reset your password\r\n")
	assert.Contains(t, srv.data, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, srv.data, "line one\r\nline two")
}

func TestSMTPMailer_ConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := NewMailer(config.MailConfig{Host: "127.0.0.1", Port: port, From: "a@b.io"}, nil)
	err = m.Send(context.Background(), "user@example.com", "s", "b")
	assert.ErrorContains(t, err, "connecting to 127.0.0.1:"+strconv.Itoa(port))
}

func TestNewMailer_NoHost(t *testing.T) {
	m := NewMailer(config.MailConfig{}, nil)
	require.IsType(t, &LogMailer{}, m)
	assert.NoError(t, m.Send(context.Background(), "user@example.com", "s", "secret body"))
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := buildMessage("from@x.io", "to@x.io", "Hello", "a\nb", now)

	headers, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, headers, "From: from@x.io")
	assert.Contains(t, headers, "To: to@x.io")
	assert.Contains(t, headers, "Date: Sun, 01 Mar 2026 12:00:00 +0000")
	assert.Contains(t, headers, "MIME-Version: 1.0")
	assert.Equal(t, "a\r\nb", body)
}

func TestActionLink(t *testing.T) {
	t.Parallel()

	link := ActionLink("https://wikiclip.example/", ResetPasswordPath, "a.b.c")
	assert.Equal(t, "https://wikiclip.example/reset-password?x-token-auth=a.b.c", link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", u.Query().Get("x-token-auth"))
}
