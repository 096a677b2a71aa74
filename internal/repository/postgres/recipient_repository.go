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

// RecipientRepository persists contacts grouped by recipient source.
type RecipientRepository struct {
	db *sqlx.DB
}

// NewRecipientRepository constructs the repository.
func NewRecipientRepository(db *sqlx.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// BulkInsert inserts a batch of recipients.
func (r *RecipientRepository) BulkInsert(ctx context.Context, recipients []*domain.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	query := `INSERT INTO recipients (
		id, source_id, phone, valid, first_name, last_name, email, extra, created_at
	) VALUES (:id, :source_id, :phone, :valid, :first_name, :last_name, :email, :extra, :created_at)
	ON CONFLICT (id) DO NOTHING`

	now := time.Now().UTC()
	rows := make([]map[string]any, 0, len(recipients))
	for _, rec := range recipients {
		extra, err := json.Marshal(rec.Extra)
		if err != nil {
			return fmt.Errorf("recipient repo: marshal extra: %w", err)
		}
		rows = append(rows, map[string]any{
			"id":         rec.ID,
			"source_id":  rec.SourceID,
			"phone":      rec.Phone,
			"valid":      rec.Valid,
			"first_name": rec.FirstName,
			"last_name":  rec.LastName,
			"email":      rec.Email,
			"extra":      extra,
			"created_at": now,
		})
	}

	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("recipient repo: bulk insert: %w", err)
	}
	return nil
}

// Get fetches a recipient by id.
func (r *RecipientRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, source_id, phone, valid, first_name, last_name, email, extra
		FROM recipients WHERE id = $1`, id)

	var record recipientRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("recipient repo: get: %w", err)
	}
	return record.toDomain()
}

// ListEligible returns valid recipients of a source in ascending id order.
func (r *RecipientRepository) ListEligible(ctx context.Context, sourceID uuid.UUID) ([]*domain.Recipient, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, source_id, phone, valid, first_name, last_name, email, extra
		FROM recipients
		WHERE source_id = $1 AND valid = TRUE AND phone <> ''
		ORDER BY id ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("recipient repo: list eligible: %w", err)
	}
	defer rows.Close()

	var results []*domain.Recipient
	for rows.Next() {
		var record recipientRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("recipient repo: scan: %w", err)
		}
		recipient, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, recipient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipient repo: rows err: %w", err)
	}

	return results, nil
}

type recipientRecord struct {
	ID        uuid.UUID      `db:"id"`
	SourceID  uuid.UUID      `db:"source_id"`
	Phone     string         `db:"phone"`
	Valid     bool           `db:"valid"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Email     sql.NullString `db:"email"`
	Extra     []byte         `db:"extra"`
}

func (r recipientRecord) toDomain() (*domain.Recipient, error) {
	recipient := &domain.Recipient{
		ID:        r.ID,
		SourceID:  r.SourceID,
		Phone:     r.Phone,
		Valid:     r.Valid,
		FirstName: r.FirstName.String,
		LastName:  r.LastName.String,
		Email:     r.Email.String,
	}
	if len(r.Extra) > 0 {
		if err := json.Unmarshal(r.Extra, &recipient.Extra); err != nil {
			return nil, fmt.Errorf("recipient repo: unmarshal extra: %w", err)
		}
	}
	return recipient, nil
}
