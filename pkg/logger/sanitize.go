package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an email address for logging, keeping the first
// character of the local part and the TLD: "alice@example.com" becomes
// "a****@*******.com".
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local := email[:at]
	domain := email[at+1:]

	if len(local) > 1 {
		local = string(local[0]) + strings.Repeat("*", len(local)-1)
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 1 {
		for i := 0; i < len(parts)-1; i++ {
			parts[i] = strings.Repeat("*", len(parts[i]))
		}
		domain = strings.Join(parts, ".")
	}

	return local + "@" + domain
}

// RedactedAttr returns a slog attribute whose value is hidden outside
// development environments.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"api_key",
	"apikey",
	"email",
	"auth",
	"challenge",
}

// SensitiveQueryString reports whether a raw query string carries parameters
// that must never reach the logs. Single-use token and magic-link URLs put
// credentials in the query, so request logging checks this before recording
// the path.
func SensitiveQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
