package models

import "time"

// Assignment is an evaluation window inside a class.
type Assignment struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Name      string    `db:"name" json:"name"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AccessToken admits new participants into a class until ExpiresAt. It is not consumed on use.
type AccessToken struct {
	Token     string    `db:"token" json:"token"`
	ClassID   string    `db:"class_id" json:"class_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
