package models

import "time"

// OTPEntry is a live one-time code for an identity.
type OTPEntry struct {
	Identity  string    `json:"identity"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is past its expiry at now.
func (e OTPEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// OTPDelivery is the payload handed to the delivery collaborator.
type OTPDelivery struct {
	Identity  string
	Code      string
	ExpiresAt time.Time
}

// OTPOutcome classifies a verification attempt. It is internal only; callers see a single generic failure.
type OTPOutcome int

const (
	OTPMissing OTPOutcome = iota
	OTPExpired
	OTPMismatch
	OTPVerified
)

func (o OTPOutcome) String() string {
	switch o {
	case OTPVerified:
		return "verified"
	case OTPExpired:
		return "expired"
	case OTPMismatch:
		return "mismatch"
	default:
		return "missing"
	}
}
