package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/whatsapp-campaign/internal/repository"
)

// ReceiptStore persists delivery receipts in Scylla. Receipts are an
// append-heavy audit trail partitioned by campaign and day bucket.
type ReceiptStore struct {
	session *gocql.Session
}

// NewReceiptStore creates a new receipt store.
func NewReceiptStore(session *gocql.Session) *ReceiptStore {
	return &ReceiptStore{session: session}
}

// Append inserts one delivery receipt.
func (s *ReceiptStore) Append(ctx context.Context, receipt repository.DeliveryReceipt) error {
	bucket := bucketDate(receipt.OccurredAt)
	if err := s.session.Query(`INSERT INTO receipts_by_campaign (campaign_id, bucket, message_id, phone, status, error_code, error, provider_message_id, duration_ms, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.CampaignID.String(), bucket, receipt.MessageID.String(), receipt.Phone, receipt.Status,
		receipt.ErrorCode, receipt.Error, receipt.ProviderMessageID, receipt.DurationMs, receipt.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("receipt store: insert receipts_by_campaign: %w", err)
	}
	return nil
}

// ListByCampaign lists receipts for a campaign with pagination.
func (s *ReceiptStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]repository.DeliveryReceipt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, message_id, phone, status, error_code, error, provider_message_id, duration_ms, occurred_at
		FROM receipts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	receipts := make([]repository.DeliveryReceipt, 0, limit)

	var (
		bucket       time.Time
		messageIDStr string
		phone        string
		status       string
		errorCode    string
		errorText    string
		providerID   string
		durationMs   int64
		occurredAt   time.Time
	)

	for iter.Scan(&bucket, &messageIDStr, &phone, &status, &errorCode, &errorText, &providerID, &durationMs, &occurredAt) {
		messageID, err := uuid.Parse(messageIDStr)
		if err != nil {
			continue
		}

		receipts = append(receipts, repository.DeliveryReceipt{
			MessageID:         messageID,
			CampaignID:        campaignID,
			Phone:             phone,
			Status:            status,
			ErrorCode:         errorCode,
			Error:             errorText,
			ProviderMessageID: providerID,
			DurationMs:        durationMs,
			OccurredAt:        occurredAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("receipt store: iter close: %w", err)
	}

	nextState := iter.PageState()

	return receipts, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
