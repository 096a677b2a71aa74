package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/repository"
)

// MessageRepository persists per-recipient delivery records.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, campaign_id, recipient_id, phone, body, status, error_code, error_message, sent_at, created_at, updated_at`

// BulkInsert creates the queued message rows for a scheduled run.
func (r *MessageRepository) BulkInsert(ctx context.Context, messages []*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	query := `INSERT INTO messages (
		id, campaign_id, recipient_id, phone, body, status, error_code, error_message, sent_at, created_at, updated_at
	) VALUES (:id, :campaign_id, :recipient_id, :phone, :body, :status, :error_code, :error_message, :sent_at, :created_at, :updated_at)
	ON CONFLICT (id) DO NOTHING`

	rows := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, map[string]any{
			"id":            m.ID,
			"campaign_id":   m.CampaignID,
			"recipient_id":  m.RecipientID,
			"phone":         m.Phone,
			"body":          m.Body,
			"status":        m.Status,
			"error_code":    m.ErrorCode,
			"error_message": m.ErrorMessage,
			"sent_at":       m.SentAt,
			"created_at":    m.CreatedAt,
			"updated_at":    m.UpdatedAt,
		})
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return fmt.Errorf("message repo: bulk insert: %w", err)
		}
		return nil
	})
}

// Get fetches a message by id.
func (r *MessageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	var record messageRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("message repo: get: %w", err)
	}
	message := record.toDomain()
	return &message, nil
}

// MarkSent settles a queued message as sent. The status guard makes the
// transition happen at most once; false means another execution won the row.
func (r *MessageRepository) MarkSent(ctx context.Context, id uuid.UUID, body string, sentAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages
		SET status = $1, body = $2, sent_at = $3, error_code = '', error_message = '', updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		domain.MessageStatusSent, body, sentAt, id, domain.MessageStatusQueued)
	if err != nil {
		return false, fmt.Errorf("message repo: mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkFailed settles a queued message as failed, same guard as MarkSent.
func (r *MessageRepository) MarkFailed(ctx context.Context, id uuid.UUID, body, errorCode, errorMessage string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages
		SET status = $1, body = $2, error_code = $3, error_message = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6`,
		domain.MessageStatusFailed, body, errorCode, domain.TruncateError(errorMessage), id, domain.MessageStatusQueued)
	if err != nil {
		return false, fmt.Errorf("message repo: mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByCampaign returns messages for a campaign, optionally filtered by status.
func (r *MessageRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, status string) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sqlx.Rows
	var err error
	if status != "" {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+messageColumns+`
			FROM messages WHERE campaign_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`,
			campaignID, status, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+messageColumns+`
			FROM messages WHERE campaign_id = $1 ORDER BY created_at ASC LIMIT $2`,
			campaignID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("message repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Message
	for rows.Next() {
		var record messageRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("message repo: scan: %w", err)
		}
		message := record.toDomain()
		results = append(results, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message repo: rows err: %w", err)
	}

	return results, nil
}

// ListQueuedIDs returns ids of still-queued messages in creation order.
// Resume re-schedules exactly this set.
func (r *MessageRepository) ListQueuedIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id FROM messages
		WHERE campaign_id = $1 AND status = $2 ORDER BY created_at ASC`,
		campaignID, domain.MessageStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("message repo: list queued: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("message repo: scan id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message repo: rows err: %w", err)
	}

	return ids, nil
}

// DeleteByCampaign removes all messages of a campaign.
func (r *MessageRepository) DeleteByCampaign(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("message repo: delete by campaign: %w", err)
	}
	return nil
}

type messageRecord struct {
	ID           uuid.UUID    `db:"id"`
	CampaignID   uuid.UUID    `db:"campaign_id"`
	RecipientID  uuid.UUID    `db:"recipient_id"`
	Phone        string       `db:"phone"`
	Body         string       `db:"body"`
	Status       string       `db:"status"`
	ErrorCode    string       `db:"error_code"`
	ErrorMessage string       `db:"error_message"`
	SentAt       sql.NullTime `db:"sent_at"`
	CreatedAt    sql.NullTime `db:"created_at"`
	UpdatedAt    sql.NullTime `db:"updated_at"`
}

func (r messageRecord) toDomain() domain.Message {
	message := domain.Message{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		RecipientID:  r.RecipientID,
		Phone:        r.Phone,
		Body:         r.Body,
		Status:       domain.MessageStatus(r.Status),
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
	}
	if r.SentAt.Valid {
		t := r.SentAt.Time
		message.SentAt = &t
	}
	if r.CreatedAt.Valid {
		message.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		message.UpdatedAt = r.UpdatedAt.Time
	}
	return message
}
