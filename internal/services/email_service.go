package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService defines the outbound mail surface. Implementations must be
// safe for concurrent use; the notification dispatcher calls them from worker
// goroutines.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendMagicLinkEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error
	SendSecurityAlert(ctx context.Context, email, summary string) error
}

// AWSSESEmailService sends emails using AWS SES.
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service.
func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendVerificationEmail sends the post-registration email verification link.
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
	html, text := linkEmailBodies(
		"Verify Your Email Address",
		"Thank you for creating an account. To complete your registration, please verify your email address by clicking the link below:",
		"Verify Email Address",
		link,
		expiresAt,
		"If you didn't sign up for this account, you can ignore this email. Your email address will not be verified.",
	)
	return s.send(ctx, email, "Verify your email address", html, text)
}

// SendPasswordResetEmail sends the password reset link.
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	html, text := linkEmailBodies(
		"Reset Your Password",
		"We received a request to reset the password for your account. Click the link below to choose a new password:",
		"Reset Password",
		link,
		expiresAt,
		"If you didn't request a password reset, you can ignore this email. Your password will not be changed.",
	)
	return s.send(ctx, email, "Reset your password", html, text)
}

// SendMagicLinkEmail sends a passwordless sign-in link.
func (s *AWSSESEmailService) SendMagicLinkEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/magic-link?token=%s", s.baseURL, token)
	html, text := linkEmailBodies(
		"Sign In to Your Account",
		"Click the link below to sign in. No password needed:",
		"Sign In",
		link,
		expiresAt,
		"If you didn't request this link, you can ignore this email. Nobody can sign in without it.",
	)
	return s.send(ctx, email, "Your sign-in link", html, text)
}

// SendLockoutNotice tells the account owner their account was temporarily
// locked after repeated failed login attempts.
func (s *AWSSESEmailService) SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error {
	when := unlockAt.UTC().Format(time.RFC1123)
	html := fmt.Sprintf(`<p>Your account has been temporarily locked after repeated failed login attempts.</p>
<p>You can try again after <strong>%s</strong>.</p>
<p>If this wasn't you, we recommend resetting your password once the lock expires.</p>`, when)
	text := fmt.Sprintf(`Your account has been temporarily locked after repeated failed login attempts.

You can try again after %s.

If this wasn't you, we recommend resetting your password once the lock expires.`, when)
	return s.send(ctx, email, "Your account has been temporarily locked", html, text)
}

// SendSecurityAlert notifies the account owner about unusual sign-in
// activity, such as a new device or an improbable location change.
func (s *AWSSESEmailService) SendSecurityAlert(ctx context.Context, email, summary string) error {
	html := fmt.Sprintf(`<p>We noticed a sign-in to your account that looks unusual:</p>
<p><strong>%s</strong></p>
<p>If this was you, no action is needed. If not, please change your password immediately and review your active sessions.</p>`, summary)
	text := fmt.Sprintf(`We noticed a sign-in to your account that looks unusual:

%s

If this was you, no action is needed. If not, please change your password immediately and review your active sessions.`, summary)
	return s.send(ctx, email, "Unusual sign-in activity on your account", html, text)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))
	return nil
}

// linkEmailBodies renders the shared call-to-action layout used by every
// link-carrying email.
func linkEmailBodies(title, intro, action, link string, expiresAt time.Time, ignoreNote string) (string, string) {
	expiry := expiresAt.UTC().Format(time.RFC1123)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>%s</h1></div>
        <div class="content">
            <p>%s</p>
            <p><a href="%s" class="button">%s</a></p>
            <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
            <div class="warning"><strong>Security Notice:</strong> This link will expire at %s.</div>
            <p>%s</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>`, title, intro, link, action, link, expiry, ignoreNote)

	text := fmt.Sprintf(`%s

%s

%s

Security Notice: This link will expire at %s.

%s

This is an automated message. Please do not reply to this email.`, title, intro, link, expiry, ignoreNote)

	return html, text
}
