package models

import "time"

// External id sentinels for principals that are not enrolled students.
const (
	ExternalIDNonStudent = "non-student"
	ExternalIDTeacher    = "teacher"
)

// Student is any evaluator/evaluee principal: enrolled student, guest or teacher-proxy.
type Student struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	ExternalID      string     `db:"student_id" json:"student_id"`
	PasscodeHash    string     `db:"passcode_hash" json:"-"`
	TeamID          string     `db:"team_id" json:"team_id"`
	ClassID         string     `db:"class_id" json:"class_id"`
	IsPreAdded      bool       `db:"is_pre_added" json:"is_pre_added"`
	AccessExpiresAt *time.Time `db:"access_expires_at" json:"access_expires_at,omitempty"`
	DeviceToken     *string    `db:"device_token" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// IsGuest reports whether the row was created for a walk-in participant.
func (s Student) IsGuest() bool {
	return s.ExternalID == ExternalIDNonStudent || s.ExternalID == ""
}

// IsTeacherProxy reports whether the row stands in for a teacher acting as evaluator.
func (s Student) IsTeacherProxy() bool {
	return s.ExternalID == ExternalIDTeacher
}

// HasDevice reports whether the account is already locked to a device.
func (s Student) HasDevice() bool {
	return s.DeviceToken != nil && *s.DeviceToken != ""
}

// StudentSummary is the roster view; secrets are never included.
type StudentSummary struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	ExternalID string `db:"student_id" json:"student_id"`
	TeamID     string `db:"team_id" json:"team_id"`
}

// Summary strips the secret fields.
func (s Student) Summary() StudentSummary {
	return StudentSummary{ID: s.ID, Name: s.Name, ExternalID: s.ExternalID, TeamID: s.TeamID}
}
