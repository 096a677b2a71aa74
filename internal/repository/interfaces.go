package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/whatsapp-campaign/internal/domain"
	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence including counters.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SetTotalRecipients fixes the denominator of the completion condition.
	SetTotalRecipients(ctx context.Context, id uuid.UUID, total int64) error
	// IncrementSent and IncrementFailed apply atomic counter increments so
	// concurrent workers never lose updates.
	IncrementSent(ctx context.Context, id uuid.UUID) error
	IncrementFailed(ctx context.Context, id uuid.UUID) error
	// MarkFinished transitions a running campaign to finished. It reports
	// false without error when the campaign already left the running state,
	// which makes racing completion checks harmless.
	MarkFinished(ctx context.Context, id uuid.UUID, finishedAt time.Time) (bool, error)
}

// MessageRepository manages per-recipient delivery records.
type MessageRepository interface {
	BulkInsert(ctx context.Context, messages []*domain.Message) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// MarkSent and MarkFailed are guarded on queued status and report whether
	// the row actually transitioned. A false return means another execution
	// already settled the message.
	MarkSent(ctx context.Context, id uuid.UUID, body string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, body, errorCode, errorMessage string) (bool, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, status string) ([]*domain.Message, error)
	ListQueuedIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error)
	DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) error
}

// RecipientRepository stores contacts grouped by recipient source.
type RecipientRepository interface {
	BulkInsert(ctx context.Context, recipients []*domain.Recipient) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Recipient, error)
	// ListEligible returns valid recipients of a source in ascending id order,
	// giving Start a stable, deterministic schedule.
	ListEligible(ctx context.Context, sourceID uuid.UUID) ([]*domain.Recipient, error)
}

// ReceiptStore persists delivery receipts emitted by send executions.
type ReceiptStore interface {
	Append(ctx context.Context, receipt DeliveryReceipt) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]DeliveryReceipt, []byte, error)
}

// DeliveryReceipt is the storage representation of one send outcome.
type DeliveryReceipt struct {
	MessageID         uuid.UUID
	CampaignID        uuid.UUID
	Phone             string
	Status            string
	ErrorCode         string
	Error             string
	ProviderMessageID string
	DurationMs        int64
	OccurredAt        time.Time
}
