// Package domain contains core domain types for the FocusForge application.
package domain

import (
	"time"
)

// User represents a user in the system with their cumulative focus statistics.
type User struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	TotalFocusTime float64   `json:"total_focus_time"`
	SleepIncidents int       `json:"sleep_incidents"`
	TotalSleepTime float64   `json:"total_sleep_time"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Totals returns the user's cumulative statistics.
func (u *User) Totals() Totals {
	return Totals{
		TotalFocusTime: u.TotalFocusTime,
		SleepIncidents: u.SleepIncidents,
		TotalSleepTime: u.TotalSleepTime,
	}
}

// Totals holds the cumulative statistics of a user.
type Totals struct {
	TotalFocusTime float64 `json:"total_focus_time"`
	SleepIncidents int     `json:"sleep_incidents"`
	TotalSleepTime float64 `json:"total_sleep_time"`
}

// StatsDelta is an increment applied to a user's totals.
// Every component must be non-negative.
type StatsDelta struct {
	FocusTimeDelta      float64 `json:"focus_time_delta"`
	SleepIncidentsDelta int     `json:"sleep_incidents_delta"`
	SleepTimeDelta      float64 `json:"sleep_time_delta"`
}

// Validate reports ErrNegativeDelta when any component would decrease a total.
func (d StatsDelta) Validate() error {
	if d.FocusTimeDelta < 0 || d.SleepIncidentsDelta < 0 || d.SleepTimeDelta < 0 {
		return ErrNegativeDelta
	}
	return nil
}

// IsZero returns true if applying the delta would not change anything.
func (d StatsDelta) IsZero() bool {
	return d.FocusTimeDelta == 0 && d.SleepIncidentsDelta == 0 && d.SleepTimeDelta == 0
}
