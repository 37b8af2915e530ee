package dto

import (
	"time"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// JoinLink is a freshly issued class join link.
type JoinLink struct {
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JoinInfo is what the join page needs to render its form.
type JoinInfo struct {
	ClassID   string        `json:"class_id"`
	ClassName string        `json:"class_name"`
	ExpiresAt time.Time     `json:"expires_at"`
	Teams     []models.Team `json:"teams"`
}

// JoinRequest admits a participant through a join token.
type JoinRequest struct {
	Token       string `json:"-" validate:"required"`
	Name        string `json:"student_name" validate:"required,max=200"`
	ExternalID  string `json:"student_id" validate:"required_without=IsGuest,max=64"`
	TeamID      string `json:"team_id" validate:"required_without=IsGuest"`
	IsGuest     bool   `json:"is_guest"`
	DeviceToken string `json:"-"`
}
