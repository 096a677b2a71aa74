package queue

import (
	"time"

	"github.com/google/uuid"
)

// SendJob is one deferred unit of work: deliver one message once its due time
// has passed. Everything else is re-read fresh at execution time.
type SendJob struct {
	MessageID  uuid.UUID `json:"message_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	DueAt      time.Time `json:"due_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OutcomeEvent reports the result of one send execution.
type OutcomeEvent struct {
	MessageID         uuid.UUID `json:"message_id"`
	CampaignID        uuid.UUID `json:"campaign_id"`
	Phone             string    `json:"phone"`
	Status            string    `json:"status"`
	ErrorCode         string    `json:"error_code,omitempty"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	DurationMs        int64     `json:"duration_ms"`
	OccurredAt        time.Time `json:"occurred_at"`
}
