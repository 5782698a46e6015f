package model

import "time"

// Subscriber is an email address opted in to alerts for one region.
type Subscriber struct {
	Email     string    `json:"email"`
	Region    string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}
