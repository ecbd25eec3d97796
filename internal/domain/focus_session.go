package domain

import (
	"fmt"
	"time"
)

// FocusSession is one contiguous monitoring interval from start to stop.
type FocusSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Duration        float64    `json:"duration"`
	SleepDetections int        `json:"sleepDetections"`
	IsActive        bool       `json:"isActive"`
}

// SessionUpdate carries the fields written when a session is finalized.
// Nil fields are left untouched.
type SessionUpdate struct {
	EndTime         *time.Time
	Duration        *float64
	SleepDetections *int
	IsActive        *bool
}

// Apply merges the update into the session.
func (u SessionUpdate) Apply(s *FocusSession) {
	if u.EndTime != nil {
		end := *u.EndTime
		s.EndTime = &end
	}
	if u.Duration != nil {
		s.Duration = *u.Duration
	}
	if u.SleepDetections != nil {
		s.SleepDetections = *u.SleepDetections
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
}

// Finalize builds the update written at stop time.
func Finalize(endTime time.Time, duration float64, sleepDetections int) SessionUpdate {
	inactive := false
	return SessionUpdate{
		EndTime:         &endTime,
		Duration:        &duration,
		SleepDetections: &sleepDetections,
		IsActive:        &inactive,
	}
}

// EyeState is the per-frame estimate produced by the frame analyzer.
type EyeState struct {
	IsOpen     bool      `json:"isOpen"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// FormatClock renders seconds as mm:ss, the way the session timer shows it.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
