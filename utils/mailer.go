package utils

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"mailpilot/models"
)

// OutboundEmail is the transport-level view of one message
type OutboundEmail struct {
	To      string
	Subject string
	Body    string
	HTML    bool
	Headers map[string]string
}

// Mailer is the sending transport collaborator. Implementations must be
// safe to call repeatedly with distinct messages; no state leaks between
// calls.
type Mailer interface {
	Send(sender *models.Sender, msg OutboundEmail) (messageID string, err error)
}

// SMTPMailer delivers through each sender's own SMTP credentials
type SMTPMailer struct{}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{}
}

func (m *SMTPMailer) Send(sender *models.Sender, msg OutboundEmail) (string, error) {
	password, err := Decrypt(sender.SMTPPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	dialer := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
	dialer.TLSConfig = &tls.Config{ServerName: sender.SMTPHost}
	if strings.EqualFold(sender.Encryption, "SSL") {
		dialer.SSL = true
	}

	messageID := buildMessageID(sender.FromEmail)

	message := gomail.NewMessage()
	message.SetHeader("From", fmt.Sprintf("%s <%s>", sender.FromName, sender.FromEmail))
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)
	message.SetHeader("Message-ID", messageID)
	message.SetHeader("X-Mailer", "MailPilot/1.0")
	message.SetHeader("X-Priority", "3")
	for name, value := range msg.Headers {
		message.SetHeader(name, value)
	}

	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	message.SetBody(contentType, msg.Body)

	if err := dialer.DialAndSend(message); err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}

	return messageID, nil
}

// buildMessageID makes an RFC 5322 message id under the sender's domain so
// replies can be correlated back to the originating send.
func buildMessageID(fromEmail string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromEmail, "@"); at != -1 {
		domain = fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
