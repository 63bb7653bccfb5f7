package model

import "time"

// User is a local account with its SIS identifier (idnumber).
type User struct {
	ID         int64  `json:"id" db:"id"`
	ExternalID string `json:"external_id" db:"idnumber"`
	Email      string `json:"email" db:"email"`
	FullName   string `json:"full_name" db:"fullname"`
}

// Course is a local course section and the dates that bound grade entry.
type Course struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"idnumber"`
	FullName   string    `json:"full_name" db:"fullname"`
	StartDate  time.Time `json:"start_date" db:"start_date"`
	EndDate    time.Time `json:"end_date" db:"end_date"`
}
