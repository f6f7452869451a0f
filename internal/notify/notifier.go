package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/ritahq/automation-mock/pkg/smtp"
)

// Notifier delivers the user-facing links this service produces. The mock
// defaults to the log sink; the SMTP implementation exists for setups that
// want real mail delivery against a local catcher like MailHog.
type Notifier interface {
	PasswordResetLink(ctx context.Context, email, link string) error
	VerificationLink(ctx context.Context, email, link string) error
	InvitationLink(ctx context.Context, email, link string) error
}

// LogNotifier writes every notification to the process log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) PasswordResetLink(_ context.Context, email, link string) error {
	log.Printf("NOTIFY password reset for %s: %s", email, link)
	return nil
}

func (n *LogNotifier) VerificationLink(_ context.Context, email, link string) error {
	log.Printf("NOTIFY email verification for %s: %s", email, link)
	return nil
}

func (n *LogNotifier) InvitationLink(_ context.Context, email, link string) error {
	log.Printf("NOTIFY invitation for %s: %s", email, link)
	return nil
}

// SMTPNotifier delivers notifications as plain-text email.
type SMTPNotifier struct {
	client *smtp.Client
}

func NewSMTPNotifier(client *smtp.Client) *SMTPNotifier {
	return &SMTPNotifier{client: client}
}

func (n *SMTPNotifier) PasswordResetLink(_ context.Context, email, link string) error {
	body := fmt.Sprintf("A password reset was requested for your account.\n\nReset your password: %s\n\nThe link expires in one hour. If you did not request this, ignore this email.", link)
	return n.client.Send(email, "Reset your Rita password", body)
}

func (n *SMTPNotifier) VerificationLink(_ context.Context, email, link string) error {
	body := fmt.Sprintf("Welcome to Rita!\n\nVerify your email address: %s", link)
	return n.client.Send(email, "Verify your Rita account", body)
}

func (n *SMTPNotifier) InvitationLink(_ context.Context, email, link string) error {
	body := fmt.Sprintf("You have been invited to a Rita workspace.\n\nAccept the invitation: %s", link)
	return n.client.Send(email, "You've been invited to Rita", body)
}
