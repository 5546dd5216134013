// Package mailer отправляет HTML письма через SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"example.com/learning-commerce/pkg/logger"
)

// Message — готовое к отправке письмо.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Sender отправляет письма. Реализуется *SMTPMailer.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config — параметры SMTP сервера.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer отправляет письма через SMTP.
// STARTTLS и AUTH используются, если сервер их объявляет.
type SMTPMailer struct {
	cfg Config
	now func() time.Time
}

// New создаёт SMTPMailer.
func New(cfg Config) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPMailer{cfg: cfg, now: time.Now}
}

// Send отправляет письмо одному получателю.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("некорректный адрес получателя: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("подключение к SMTP %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("приветствие SMTP: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if ok, _ := c.Extension("AUTH"); ok && m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP AUTH: %w", err)
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(m.build(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("запись письма: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("завершение DATA: %w", err)
	}

	if err := c.Quit(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка QUIT после отправки письма")
	}
	return nil
}

// build собирает RFC 5322 сообщение. Порядок заголовков фиксирован.
func (m *SMTPMailer) build(msg Message) []byte {
	to := (&mail.Address{Name: msg.ToName, Address: msg.To}).String()

	headers := [][2]string{
		{"From", m.cfg.From},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
		{"Content-Transfer-Encoding", "8bit"},
	}

	var b strings.Builder
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h[0], h[1])
	}
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.HTML, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
