package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus enumerates delivery states of a single message.
// Transitions are monotonic: a message leaves queued at most once.
type MessageStatus string

const (
	MessageStatusQueued MessageStatus = "queued"
	MessageStatusSent   MessageStatus = "sent"
	MessageStatusFailed MessageStatus = "failed"
)

// Error codes recorded on failed messages.
const (
	ErrorCodeSendError           = "SEND_ERROR"
	ErrorCodeCampaignNotFound    = "CAMPAIGN_NOT_FOUND"
	ErrorCodeSessionDisconnected = "SESSION_DISCONNECTED"
	ErrorCodeJobFailed           = "JOB_FAILED"
)

// ErrorMessageLimit bounds the stored error text per message.
const ErrorMessageLimit = 500

// Message is the per-recipient delivery record of a campaign.
type Message struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	RecipientID  uuid.UUID
	Phone        string
	Body         string
	Status       MessageStatus
	ErrorCode    string
	ErrorMessage string
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TruncateError caps error text at ErrorMessageLimit characters. The cut is
// on a rune boundary so multi-byte text never becomes invalid UTF-8.
func TruncateError(text string) string {
	if len(text) <= ErrorMessageLimit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= ErrorMessageLimit {
		return text
	}
	return string(runes[:ErrorMessageLimit])
}
