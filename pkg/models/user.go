package models

import "time"

// UserID is the normalized user identity used at every store and wire
// boundary. Inbound JSON is mapped to it once; internal code never
// re-parses raw id fields.
type UserID string

func (u UserID) String() string { return string(u) }

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether s is one of the four presence statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Reachable reports whether s counts toward the online criterion
// (anything except offline).
func (s Status) Reachable() bool {
	return s == StatusOnline || s == StatusAway || s == StatusBusy
}

// User is the persisted user record. The delivery core writes only the
// Status and LastActive columns; everything else is owned externally.
type User struct {
	ID       UserID   `json:"_id"`
	Username string   `json:"username"`
	Avatar   string   `json:"avatar,omitempty"`
	Friends  []UserID `json:"friends,omitempty"`

	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`
}

// UserRef is the compact sender representation embedded in wire payloads.
type UserRef struct {
	ID       UserID `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Ref returns the wire representation of the user.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// Group is the minimal group record the delivery core needs: the member
// set a group fanout targets. Full group CRUD is owned externally.
type Group struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name,omitempty"`
	Members []UserID `json:"members"`
}
