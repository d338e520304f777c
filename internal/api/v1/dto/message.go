package dto

import (
	"encoding/json"
	"time"
)

// CreateMessageDTO is used for incoming submission requests
type CreateMessageDTO struct {
	Name   string  `json:"name" validate:"required"`
	Age    *int    `json:"age" validate:"omitempty,gte=0,lte=150"`
	Gender *string `json:"gender"`
	Mood   *string `json:"mood"`
}

// UpdateStatusDTO is used for status override requests
type UpdateStatusDTO struct {
	Status string `json:"status" validate:"required,oneof=ok restricted"`
}

// MessageResponseDTO is returned in API responses
type MessageResponseDTO struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Age               *int            `json:"age"`
	Gender            *string         `json:"gender"`
	Mood              *string         `json:"mood"`
	MessageText       string          `json:"message_text"`
	ModerationPayload json.RawMessage `json:"moderation_payload"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	IsFetched         bool            `json:"is_fetched"`
	FetchedAt         *time.Time      `json:"fetched_at"`
}

// ResetQueueResponseDTO reports the outcome of a queue reset
type ResetQueueResponseDTO struct {
	Message    string `json:"message"`
	ResetCount int64  `json:"reset_count"`
}

// UpdateStatusResponseDTO confirms a status override
type UpdateStatusResponseDTO struct {
	Message   string `json:"message"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

// HealthResponseDTO is the liveness probe body
type HealthResponseDTO struct {
	Status string `json:"status"`
}
