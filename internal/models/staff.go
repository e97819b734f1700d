// internal/models/staff.go
package models

import "time"

type StaffRole string

const (
	RoleManager StaffRole = "manager"
	RoleStaff   StaffRole = "staff"
)

// VenueNumber is a phone number attached to a venue, carrying any pending staff invite.
type VenueNumber struct {
	ID                    string     `json:"id"`
	VenueID               string     `json:"venue_id"`
	NumberAddress         string     `json:"number_address"`
	Role                  StaffRole  `json:"role"`
	IsActive              bool       `json:"is_active"`
	VerificationCodeHash  string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"verification_expires_at,omitempty"`
	VerificationAttempts  int        `json:"verification_attempts"`
	VerifiedAt            *time.Time `json:"verified_at,omitempty"`
}

// StaffSession grants a number access to a venue's vendor flows.
type StaffSession struct {
	NumberAddress string    `json:"number_address"`
	VenueID       string    `json:"venue_id"`
	Role          StaffRole `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}
