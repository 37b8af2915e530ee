package dto

import (
	"time"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// TeacherLoginRequest authenticates an instructor.
type TeacherLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// StudentLoginRequest authenticates an enrolled student by display name and passcode.
type StudentLoginRequest struct {
	Name        string `json:"student_name" validate:"required,max=200"`
	Passcode    string `json:"passcode" validate:"required,max=200"`
	DeviceToken string `json:"-"`
}

// GuestLoginRequest authenticates a walk-in guest by display name and shared passcode.
type GuestLoginRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Passcode    string `json:"passcode" validate:"required,max=200"`
	DeviceToken string `json:"-"`
}

// SelectClassRequest completes a login that matched more than one enrollment.
type SelectClassRequest struct {
	Ticket      string `json:"ticket" validate:"required"`
	StudentID   string `json:"student_id" validate:"required"`
	ClassID     string `json:"class_id"`
	TeamID      string `json:"team_id"`
	DeviceToken string `json:"-"`
}

// ClassCandidate is one enrollment matching an ambiguous login.
type ClassCandidate struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	ClassName string `json:"class_name"`
	TeamID    string `json:"team_id"`
}

// Disambiguation asks the caller to pick one candidate and call select with the ticket.
type Disambiguation struct {
	Ticket     string           `json:"ticket"`
	ExpiresAt  time.Time        `json:"expires_at"`
	Candidates []ClassCandidate `json:"classes"`
}

// SessionGrant is an established session plus the device token the caller must persist.
type SessionGrant struct {
	Token       string           `json:"token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Principal   models.Principal `json:"principal"`
	DeviceToken string           `json:"-"`
}

// LoginResult holds exactly one of Session or Disambiguation.
type LoginResult struct {
	Session        *SessionGrant   `json:"session,omitempty"`
	Disambiguation *Disambiguation `json:"disambiguation,omitempty"`
}

// MultipleClasses reports whether the caller must follow up with select.
func (r *LoginResult) MultipleClasses() bool {
	return r != nil && r.Disambiguation != nil
}

// RegistrationCodeRequest starts teacher registration.
type RegistrationCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RegistrationTicket is returned after a code was sent; it must accompany the code.
type RegistrationTicket struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterTeacherRequest completes teacher registration.
type RegisterTeacherRequest struct {
	Ticket   string `json:"ticket" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Code     string `json:"code" validate:"required,numeric"`
}
