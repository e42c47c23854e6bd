package notification

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
)

// Email sends HTML mail over SMTP. Port 587 uses STARTTLS via the stdlib
// path; port 465 dials TLS directly.
type Email struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Enabled reports whether the sender has a complete SMTP configuration.
func (e *Email) Enabled() bool {
	return e != nil && e.Host != "" && e.Port != "" && e.Username != "" && e.Password != "" && e.From != ""
}

// Send delivers one HTML message to every recipient.
func (e *Email) Send(to []string, subject, htmlBody string) error {
	if !e.Enabled() {
		return fmt.Errorf("smtp not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	from := e.From
	if e.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.FromName, e.From)
	}

	message := []byte(
		"From: " + from + "\r\n" +
			"To: " + strings.Join(to, ", ") + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			htmlBody + "\r\n",
	)

	auth := smtp.PlainAuth("", e.Username, e.Password, e.Host)
	addr := e.Host + ":" + e.Port

	var err error
	if e.Port == "465" {
		err = e.sendTLS(addr, auth, to, message)
	} else {
		err = smtp.SendMail(addr, auth, e.From, to, message)
	}
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (e *Email) sendTLS(addr string, auth smtp.Auth, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.Host})
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(e.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("adding recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("opening data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data writer: %w", err)
	}
	return client.Quit()
}
