package identity

import "time"

// Session binds a credential to a user until it expires.
type Session struct {
	Token     string    `json:"token"`
	User      *User     `json:"user"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session is past its expiry at now.
// A nil session counts as expired.
func (s *Session) IsExpired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Validate checks the session is usable as an authenticated state.
func (s *Session) Validate() error {
	if s == nil || s.Token == "" {
		return ErrInvalidSession
	}
	return s.User.Validate()
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
