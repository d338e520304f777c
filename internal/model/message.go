package model

import "time"

// Status is the moderation outcome of a message.
type Status string

const (
	StatusOK         Status = "ok"
	StatusRestricted Status = "restricted"
)

// Valid reports whether s is one of the two allowed moderation statuses.
func (s Status) Valid() bool {
	return s == StatusOK || s == StatusRestricted
}

// Message represents a moderated profile message in the delivery queue.
// It maps to the "messages" table.
type Message struct {
	ID                int64      `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Age               *int       `db:"age" json:"age,omitempty"`
	Gender            *string    `db:"gender" json:"gender,omitempty"`
	Mood              *string    `db:"mood" json:"mood,omitempty"`
	MessageText       string     `db:"message_text" json:"message_text"`
	ModerationPayload string     `db:"moderation_payload" json:"moderation_payload"`
	Status            Status     `db:"status" json:"status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	IsFetched         bool       `db:"is_fetched" json:"is_fetched"`
	FetchedAt         *time.Time `db:"fetched_at" json:"fetched_at,omitempty"`
}
