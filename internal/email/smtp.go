package email

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const defaultSMTPTimeout = 10 * time.Second

type Message struct {
	FromName  string
	FromEmail string
	ToEmail   string
	Subject   string
	TextBody  string
	HTMLBody  string
}

type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	TLSMode  string
	Timeout  time.Duration
}

func (s SMTPSettings) addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s SMTPSettings) mode() string {
	if s.TLSMode == "" {
		return "starttls"
	}
	return s.TLSMode
}

func (s SMTPSettings) timeout() time.Duration {
	if s.Timeout <= 0 {
		return defaultSMTPTimeout
	}
	return s.Timeout
}

// SMTPSender opens one connection per message. Messages without a sender
// address go out as FromName <FromEmail>.
type SMTPSender struct {
	Settings  SMTPSettings
	FromName  string
	FromEmail string
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.FromEmail == "" {
		msg.FromEmail, msg.FromName = s.FromEmail, s.FromName
	}
	if _, err := mail.ParseAddress(msg.ToEmail); err != nil {
		return fmt.Errorf("smtp recipient %q: %w", msg.ToEmail, err)
	}
	if msg.FromEmail == "" {
		return errors.New("smtp: sender address is empty")
	}

	payload, err := buildMessage(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Settings.timeout())
	defer cancel()

	client, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := s.transmit(client, msg.FromEmail, msg.ToEmail, payload); err != nil {
		return err
	}
	// Some relays drop the connection right after 221.
	if err := client.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("smtp quit: %w", err)
	}
	return nil
}

func (s *SMTPSender) open(ctx context.Context) (*smtp.Client, error) {
	cfg := s.Settings
	dialer := &net.Dialer{Timeout: cfg.timeout()}
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if cfg.mode() == "tls" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", cfg.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", cfg.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp greeting: %w", err)
	}
	if cfg.mode() == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

func (s *SMTPSender) transmit(client *smtp.Client, from, to, payload string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(payload)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return nil
}

// buildMessage renders msg as an RFC 5322 message. A plain-text body is sent
// as is; an HTML body turns the message into multipart/alternative.
func buildMessage(msg Message) (string, error) {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = mime.QEncoding.Encode("utf-8", msg.FromName) + " <" + msg.FromEmail + ">"
	}
	id, err := randomHex(16)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	header := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	header("From", from)
	header("To", msg.ToEmail)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+id+"@"+domainOf(msg.FromEmail)+">")
	header("MIME-Version", "1.0")

	part := func(contentType, body string) {
		b.WriteString("Content-Type: " + contentType + "; charset=utf-8\r\n\r\n")
		b.WriteString(body)
	}

	if msg.HTMLBody == "" {
		part("text/plain", msg.TextBody)
		return b.String(), nil
	}

	boundary, err := randomHex(12)
	if err != nil {
		return "", err
	}
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
	b.WriteString("\r\n--" + boundary + "\r\n")
	part("text/plain", msg.TextBody)
	b.WriteString("\r\n--" + boundary + "\r\n")
	part("text/html", msg.HTMLBody)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.String(), nil
}

func domainOf(addr string) string {
	if _, d, ok := strings.Cut(addr, "@"); ok && d != "" {
		return d
	}
	return "localhost"
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
