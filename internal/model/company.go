package model

import "time"

// Company is a tracked competitor. Tracked companies are enumerated by the
// periodic recompute trigger.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Tracked   bool      `json:"tracked"`
	CreatedAt time.Time `json:"created_at"`
}
