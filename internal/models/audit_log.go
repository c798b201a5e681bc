package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for audit logging
const (
	AuditEventLogin              = "login"
	AuditEventLogout             = "logout"
	AuditEventRegister           = "register"
	AuditEventLockout            = "account_lockout"
	AuditEventTokenRefresh       = "token_refresh"
	AuditEventTokenReuse         = "token_reuse_detected"
	AuditEventSuspiciousActivity = "suspicious_activity"
	AuditEventMFAChallenge       = "mfa_challenge"
	AuditEventMFAEnroll          = "mfa_enroll"
	AuditEventPasswordReset      = "password_reset"
	AuditEventEmailVerified      = "email_verified"
	AuditEventSessionRevoked     = "session_revoked"
)

// Severities
const (
	AuditSeverityInfo     = "info"
	AuditSeverityWarning  = "warning"
	AuditSeverityCritical = "critical"
)

type AuditLog struct {
	ID            string
	TenantID      string
	EventType     string
	UserID        *string
	SessionID     *string
	Severity      string
	Success       bool
	FailureReason *string
	IPAddress     *string
	UserAgent     *string
	Metadata      AuditMetadata
	CreatedAt     time.Time
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}
