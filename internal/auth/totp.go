package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPEnrollment is handed to a user setting up MFA. The secret is shown once;
// only the user record keeps it afterwards.
type TOTPEnrollment struct {
	Secret    string // Base32-encoded
	URL       string // otpauth:// provisioning URL
	QRDataURL string // data:image/png;base64 QR of the URL
}

// TOTPVerifier implements the step-up MFA check with RFC 6238 TOTP codes.
type TOTPVerifier struct {
	issuer string
}

// NewTOTPVerifier creates a TOTP verifier. issuer shows up in authenticator
// apps next to the account name.
func NewTOTPVerifier(issuer string) *TOTPVerifier {
	return &TOTPVerifier{issuer: issuer}
}

// GenerateEnrollment creates a fresh secret and the QR material for
// authenticator-app setup.
func (v *TOTPVerifier) GenerateEnrollment(accountName string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPEnrollment{
		Secret:    key.Secret(),
		URL:       key.URL(),
		QRDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Verify validates a 6-digit code against the secret at the given instant,
// allowing ±1 time step for clock drift.
func (v *TOTPVerifier) Verify(secret, code string, now time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}
