package model

import "time"

// Session is an anonymous browser session. It owns at most one dataset and
// is swept, with that dataset, once ExpiresAt passes.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
