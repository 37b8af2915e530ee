package dto

// CreateClassRequest creates a class owned by the acting teacher.
type CreateClassRequest struct {
	Name string `json:"class_name" validate:"required,max=200"`
}

// CreateTeamRequest creates a team in a class.
type CreateTeamRequest struct {
	Name string `json:"team_name" validate:"required,max=200"`
}

// AddStudentsRequest carries a pasted roster, one student per line.
type AddStudentsRequest struct {
	Text string `json:"text" validate:"required"`
}

// AddedStudent reports one roster line that produced a student.
type AddedStudent struct {
	Name       string `json:"name"`
	ExternalID string `json:"student_id"`
}

// AssignmentRequest creates or updates an assignment. Times are ISO-8601 strings.
type AssignmentRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}
