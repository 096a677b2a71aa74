package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, session_id, source_id, message_type, payload, delay_seconds,
	total_recipients, sent_count, failed_count, status, created_at, updated_at, started_at, finished_at`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	payload, err := json.Marshal(campaign.Payload)
	if err != nil {
		return fmt.Errorf("campaign repo: marshal payload: %w", err)
	}

	q := `INSERT INTO campaigns (
		id, name, session_id, source_id, message_type, payload, delay_seconds,
		total_recipients, sent_count, failed_count, status, created_at, updated_at, started_at, finished_at
	) VALUES (
		:id, :name, :session_id, :source_id, :message_type, :payload, :delay_seconds,
		:total_recipients, :sent_count, :failed_count, :status, :created_at, :updated_at, :started_at, :finished_at
	)`

	params := map[string]any{
		"id":               campaign.ID,
		"name":             campaign.Name,
		"session_id":       campaign.SessionID,
		"source_id":        campaign.SourceID,
		"message_type":     campaign.Payload.Type,
		"payload":          payload,
		"delay_seconds":    campaign.DelaySeconds,
		"total_recipients": campaign.TotalRecipients,
		"sent_count":       campaign.SentCount,
		"failed_count":     campaign.FailedCount,
		"status":           campaign.Status,
		"created_at":       campaign.CreatedAt,
		"updated_at":       campaign.UpdatedAt,
		"started_at":       campaign.StartedAt,
		"finished_at":      campaign.FinishedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}

	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	return record.toDomain()
}

// Update updates campaign metadata and lifecycle fields. Counters are not
// written here; they only move through the atomic increment methods.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	payload, err := json.Marshal(campaign.Payload)
	if err != nil {
		return fmt.Errorf("campaign repo: marshal payload: %w", err)
	}

	q := `UPDATE campaigns SET
		name = :name,
		session_id = :session_id,
		source_id = :source_id,
		message_type = :message_type,
		payload = :payload,
		delay_seconds = :delay_seconds,
		status = :status,
		updated_at = :updated_at,
		started_at = :started_at,
		finished_at = :finished_at
	 WHERE id = :id`

	params := map[string]any{
		"id":            campaign.ID,
		"name":          campaign.Name,
		"session_id":    campaign.SessionID,
		"source_id":     campaign.SourceID,
		"message_type":  campaign.Payload.Type,
		"payload":       payload,
		"delay_seconds": campaign.DelaySeconds,
		"status":        campaign.Status,
		"updated_at":    campaign.UpdatedAt,
		"started_at":    campaign.StartedAt,
		"finished_at":   campaign.FinishedAt,
	}

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
			FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	return results, nil
}

// Delete removes a campaign and its messages in one transaction.
func (r *CampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE campaign_id = $1`, id); err != nil {
			return fmt.Errorf("campaign repo: delete messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("campaign repo: delete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("campaign repo: rows affected: %w", err)
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// SetTotalRecipients records the size of the scheduled run.
func (r *CampaignRepository) SetTotalRecipients(ctx context.Context, id uuid.UUID, total int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET total_recipients = $1, updated_at = NOW() WHERE id = $2`, total, id)
	if err != nil {
		return fmt.Errorf("campaign repo: set total: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// IncrementSent atomically advances the sent counter.
func (r *CampaignRepository) IncrementSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE campaigns SET sent_count = sent_count + 1, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("campaign repo: increment sent: %w", err)
	}
	return nil
}

// IncrementFailed atomically advances the failed counter.
func (r *CampaignRepository) IncrementFailed(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE campaigns SET failed_count = failed_count + 1, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("campaign repo: increment failed: %w", err)
	}
	return nil
}

// MarkFinished transitions a running campaign to finished. The status guard
// keeps the write idempotent and prevents a finish from overriding a cancel.
func (r *CampaignRepository) MarkFinished(ctx context.Context, id uuid.UUID, finishedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns
		SET status = $1, finished_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		domain.CampaignStatusFinished, finishedAt, id, domain.CampaignStatusRunning)
	if err != nil {
		return false, fmt.Errorf("campaign repo: mark finished: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	return n > 0, nil
}

type campaignRecord struct {
	ID              uuid.UUID      `db:"id"`
	Name            string         `db:"name"`
	SessionID       string         `db:"session_id"`
	SourceID        uuid.UUID      `db:"source_id"`
	MessageType     string         `db:"message_type"`
	Payload         []byte         `db:"payload"`
	DelaySeconds    int            `db:"delay_seconds"`
	TotalRecipients int64          `db:"total_recipients"`
	SentCount       int64          `db:"sent_count"`
	FailedCount     int64          `db:"failed_count"`
	Status          string         `db:"status"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	UpdatedAt       sql.NullTime   `db:"updated_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	FinishedAt      sql.NullTime   `db:"finished_at"`
}

func (r campaignRecord) toDomain() (*domain.Campaign, error) {
	var payload domain.Payload
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return nil, fmt.Errorf("campaign repo: unmarshal payload: %w", err)
		}
	}
	if payload.Type == "" {
		payload.Type = domain.MessageType(r.MessageType)
	}

	campaign := &domain.Campaign{
		ID:              r.ID,
		Name:            r.Name,
		SessionID:       r.SessionID,
		SourceID:        r.SourceID,
		Payload:         payload,
		DelaySeconds:    r.DelaySeconds,
		TotalRecipients: r.TotalRecipients,
		SentCount:       r.SentCount,
		FailedCount:     r.FailedCount,
		Status:          domain.CampaignStatus(r.Status),
	}
	if r.CreatedAt.Valid {
		campaign.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		campaign.UpdatedAt = r.UpdatedAt.Time
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		campaign.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		campaign.FinishedAt = &t
	}

	return campaign, nil
}
