package models

import "time"

// Class is owned by a teacher and groups teams, assignments and join links.
type Class struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Reserved team names.
const (
	GuestsTeamName   = "Guests"
	TeachersTeamName = "Teachers"
)

// Team belongs to a class and holds students.
type Team struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	ClassID   string    `db:"class_id" json:"class_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsGuests reports whether the team is the class's walk-in holding pen.
func (t Team) IsGuests() bool {
	return t.Name == GuestsTeamName
}

// IsTeachers reports whether the team hosts teacher-proxy evaluators.
func (t Team) IsTeachers() bool {
	return t.Name == TeachersTeamName
}

// TeamWithMembers is the student-facing team listing.
type TeamWithMembers struct {
	Team
	Members []StudentSummary `json:"members"`
}
