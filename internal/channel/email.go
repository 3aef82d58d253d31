package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/config"
)

const defaultSMTPTimeout = 30 * time.Second

// EmailChannel delivers messages over SMTP.
type EmailChannel struct {
	*health

	cfg    config.SMTPConfig
	logger *slog.Logger

	// sendMail is swapped in tests to avoid a live SMTP server.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail constructs the channel; call Initialize before sending.
func NewEmail(cfg config.SMTPConfig, logger *slog.Logger) *EmailChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &EmailChannel{
		health:   newHealth("email"),
		cfg:      cfg,
		logger:   logger,
		sendMail: sendMailWithTimeout(cfg.Timeout),
	}
}

// sendMailWithTimeout performs the smtp.SendMail conversation over a
// connection with a hard deadline. A stalled server surfaces as a timeout
// error instead of blocking the dispatch goroutine.
func sendMailWithTimeout(timeout time.Duration) func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	return func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return err
		}
		client, err := smtp.NewClient(conn, host)
		if err != nil {
			return err
		}
		defer client.Close()

		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
		if a != nil {
			if ok, _ := client.Extension("AUTH"); ok {
				if err := client.Auth(a); err != nil {
					return err
				}
			}
		}
		if err := client.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := client.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := client.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(msg); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		return client.Quit()
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Initialize checks SMTP configuration. Missing host or sender disables the
// channel without failing service startup.
func (c *EmailChannel) Initialize(ctx context.Context) error {
	if c.cfg.Host == "" || c.cfg.From == "" {
		c.setState(false, false)
		c.logger.Warn("email channel disabled: missing smtp configuration")
		return nil
	}
	c.setState(true, true)
	c.logger.Info("email channel initialized", slog.String("host", c.cfg.Host))
	return nil
}

func (c *EmailChannel) Status() Status { return c.snapshot() }

// Send delivers one message via SMTP. The recipient is lowercased; header
// construction stays private to this channel.
func (c *EmailChannel) Send(ctx context.Context, msg *Message) *SendResult {
	if !c.isEnabled() {
		return c.notConfigured("smtp configuration missing")
	}

	recipient := strings.ToLower(strings.TrimSpace(msg.Recipient))
	if recipient == "" || !strings.Contains(recipient, "@") {
		return c.recordResult(&SendResult{
			Err: fmt.Errorf("invalid email recipient %q", msg.Recipient),
		})
	}

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := c.sendMail(addr, auth, c.cfg.From, []string{recipient}, []byte(b.String())); err != nil {
		return c.recordResult(&SendResult{
			Err: fmt.Errorf("smtp send: %w", err),
		})
	}

	return c.recordResult(&SendResult{
		Success:   true,
		MessageID: msg.ID,
		ProviderResponse: map[string]interface{}{
			"smtp_host": c.cfg.Host,
			"accepted":  recipient,
		},
	})
}
