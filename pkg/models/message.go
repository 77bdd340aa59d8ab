package models

import "time"

// Message is a persisted chat message. Sender display fields are
// denormalized at write time so poll payloads need no extra lookup.
type Message struct {
	ID      string  `json:"_id"`
	Sender  UserRef `json:"sender"`
	To      UserID  `json:"to,omitempty"`
	GroupID string  `json:"group_id,omitempty"`
	Content string  `json:"content"`
	SentAt  int64   `json:"sent_at"` // unix nanos
}

// NotificationKind classifies persistent notification records.
type NotificationKind string

const (
	NotifMessage       NotificationKind = "message"
	NotifGroupMessage  NotificationKind = "group_message"
	NotifFriendRequest NotificationKind = "friend_request"
	NotifGroupEvent    NotificationKind = "group_event"
)

// Notification is the persistent side-effect record created during
// fanout. The delivery core creates them but never reads them back;
// the read/unread API is owned externally.
type Notification struct {
	ID        string           `json:"_id"`
	Recipient UserID           `json:"recipient"`
	Sender    UserID           `json:"sender,omitempty"`
	Kind      NotificationKind `json:"kind"`
	Content   string           `json:"content"`
	RelatedID string           `json:"related_id,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
