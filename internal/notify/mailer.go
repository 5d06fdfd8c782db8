package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer delivers a rendered message to one address.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ConsoleMailer logs messages instead of sending them. Dev default.
type ConsoleMailer struct{}

// Send writes the message to the process log.
func (ConsoleMailer) Send(ctx context.Context, to, subject, body string) error {
	log.Printf("mail to=%s subject=%q\n%s", to, subject, body)
	return nil
}

// SendgridMailer sends through the Sendgrid v3 API.
type SendgridMailer struct {
	client   *sendgrid.Client
	from     *sgmail.Email
	fromName string
}

// NewSendgridMailer creates a mailer with the given API key and sender.
func NewSendgridMailer(apiKey, fromAddr, fromName string) *SendgridMailer {
	return &SendgridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   sgmail.NewEmail(fromName, fromAddr),
	}
}

// Send delivers one plain-text message.
func (m *SendgridMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := sgmail.NewSingleEmail(m.from, subject, sgmail.NewEmail("", to), body, "")
	res, err := m.client.Send(msg)
	if err != nil {
		return err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// OTPBody renders the delivery email body.
func OTPBody(code, expiresIn string) string {
	return fmt.Sprintf("Your attendance verification code is %s.\nIt expires in %s.", code, expiresIn)
}
