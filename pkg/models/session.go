package models

import "time"

// ClientInfo describes the client that opened a session.
type ClientInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`
}

// Session is a registered long-poll session. The waiter handle lives in
// the session registry, never here and never on disk.
type Session struct {
	ID           string     `json:"session_id"`
	UserID       UserID     `json:"user_id"`
	Client       ClientInfo `json:"client,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
}

// Active reports whether the session has been touched within the idle
// window as of now.
func (s *Session) Active(now time.Time, idleWindow time.Duration) bool {
	return now.Sub(s.LastActivity) < idleWindow
}
