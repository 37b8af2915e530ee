package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role distinguishes the two kinds of session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Principal is the authenticated actor carried by a session.
type Principal struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Name    string `json:"name"`
	ClassID string `json:"class_id,omitempty"`
	TeamID  string `json:"team_id,omitempty"`
}

// SessionClaims is the signed session payload. RegisteredClaims.ID carries the session id.
type SessionClaims struct {
	PrincipalID string    `json:"principal_id"`
	Role        Role      `json:"role"`
	Name        string    `json:"name"`
	ClassID     string    `json:"class_id,omitempty"`
	TeamID      string    `json:"team_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	jwt.RegisteredClaims
}

// Principal returns the actor described by the claims.
func (c *SessionClaims) Principal() Principal {
	return Principal{ID: c.PrincipalID, Role: c.Role, Name: c.Name, ClassID: c.ClassID, TeamID: c.TeamID}
}
