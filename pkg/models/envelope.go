package models

import "time"

// EnvelopeKind tags the payload variant carried by a queue entry.
type EnvelopeKind string

const (
	EnvelopeMessage  EnvelopeKind = "message"
	EnvelopeSystem   EnvelopeKind = "system"
	EnvelopePresence EnvelopeKind = "presence"
)

// Envelope is the tagged payload placed on a recipient queue. Exactly one
// of the variant field groups is populated, selected by Kind.
type Envelope struct {
	Kind EnvelopeKind `json:"kind"`

	// EnvelopeMessage: reference to a persisted message.
	MessageID string `json:"message_id,omitempty"`

	// EnvelopeSystem: self-contained system message.
	SystemType string            `json:"system_type,omitempty"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// EnvelopePresence: a friend's status transition.
	SubjectID UserID `json:"subject_id,omitempty"`
	NewStatus Status `json:"new_status,omitempty"`
	At        int64  `json:"at,omitempty"` // unix nanos
}

// MessageEnvelope wraps a persisted message id for queueing.
func MessageEnvelope(messageID string) Envelope {
	return Envelope{Kind: EnvelopeMessage, MessageID: messageID}
}

// SystemEnvelope builds a system-message envelope.
func SystemEnvelope(systemType, content string, metadata map[string]string) Envelope {
	return Envelope{Kind: EnvelopeSystem, SystemType: systemType, Content: content, Metadata: metadata}
}

// PresenceEnvelope builds a presence-change envelope.
func PresenceEnvelope(subject UserID, status Status, at time.Time) Envelope {
	return Envelope{Kind: EnvelopePresence, SubjectID: subject, NewStatus: status, At: at.UnixNano()}
}

// QueueEntry is one undelivered-or-delivered envelope on a recipient's
// queue. State machine: undelivered -> delivered -> purged; no path
// skips delivered.
type QueueEntry struct {
	Recipient  UserID   `json:"recipient"`
	Envelope   Envelope `json:"envelope"`
	EnqueuedAt int64    `json:"enqueued_at"` // unix nanos
	Delivered  bool     `json:"delivered"`
	DeliveredAt int64   `json:"delivered_at,omitempty"`
}

// PresenceTransition is the ephemeral event returned by the presence
// tracker when a status actually changes. It lives only until fanout has
// enqueued the corresponding presence envelopes.
type PresenceTransition struct {
	Subject   UserID
	OldStatus Status
	NewStatus Status
	At        time.Time
}
