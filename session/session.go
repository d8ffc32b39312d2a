package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusBusy       Status = "busy"
	StatusTerminated Status = "terminated"
)

var (
	ErrSessionExists   = errors.New("session already registered")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is busy")
	ErrInvalidID       = errors.New("invalid session id")
)

// Session identifies one logical user with its own persistent namespace.
type Session struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	Status        Status     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastActivity  time.Time  `json:"last_activity"`
	Executions    int64      `json:"executions"`
	Success       bool       `json:"success"`
	Notes         string     `json:"notes,omitempty"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// IsBusy reports whether an execution currently runs for the session.
func (s *Session) IsBusy() bool {
	return s.Status == StatusBusy
}
