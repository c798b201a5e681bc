package models

import "time"

// LoginAttempt records the outcome of a single authentication attempt. The
// successful-attempt history doubles as the baseline for the suspicious
// activity detector (new device, new IP, impossible travel).
type LoginAttempt struct {
	ID                string
	TenantID          string
	Email             string
	UserID            *string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Latitude          *float64
	Longitude         *float64
	AttemptTime       time.Time
	Success           bool
	FailureReason     *string
	ExpiresAt         time.Time
}

// ActivitySignals holds the advisory flags evaluated at login time. None of
// them blocks authentication on its own.
type ActivitySignals struct {
	NewDevice        bool
	NewIP            bool
	ImpossibleTravel bool
}

// Suspicious reports whether any signal fired.
func (s ActivitySignals) Suspicious() bool {
	return s.NewDevice || s.NewIP || s.ImpossibleTravel
}
