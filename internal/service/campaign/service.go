package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/config"
	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/queue"
	"github.com/acme/whatsapp-campaign/internal/repository"
	"github.com/acme/whatsapp-campaign/internal/service/common"
	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

// Enqueuer schedules deferred send jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.SendJob) error
}

// SessionChecker reports whether a send-channel session is connected.
type SessionChecker interface {
	SessionConnected(ctx context.Context, sessionID string) (bool, error)
}

// Service orchestrates campaign lifecycle and dispatch scheduling.
type Service struct {
	campaigns  repository.CampaignRepository
	messages   repository.MessageRepository
	recipients repository.RecipientRepository
	receipts   repository.ReceiptStore
	enqueuer   Enqueuer
	sessions   SessionChecker
	throttle   config.ThrottleConfig
	logger     *zap.Logger
}

// NewService constructs a campaign service.
func NewService(
	campaigns repository.CampaignRepository,
	messages repository.MessageRepository,
	recipients repository.RecipientRepository,
	receipts repository.ReceiptStore,
	enqueuer Enqueuer,
	sessions SessionChecker,
	throttle config.ThrottleConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		campaigns:  campaigns,
		messages:   messages,
		recipients: recipients,
		receipts:   receipts,
		enqueuer:   enqueuer,
		sessions:   sessions,
		throttle:   throttle,
		logger:     logger,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name         string
	SessionID    string
	SourceID     uuid.UUID
	Payload      domain.Payload
	DelaySeconds int
}

// Create provisions a new campaign in pending state.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:           uuid.New(),
		Name:         input.Name,
		SessionID:    input.SessionID,
		SourceID:     input.SourceID,
		Payload:      input.Payload,
		DelaySeconds: s.throttle.ClampDelay(input.DelaySeconds),
		Status:       domain.CampaignStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}

	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

// List returns campaigns with keyset pagination.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.campaigns.List(ctx, afterID, limit)
}

// Start transitions a campaign to running and schedules its dispatch. The
// status flip is persisted before any job is enqueued, so a repeated Start
// cannot double-schedule: a running campaign is rejected by the guard.
//
// From draft or pending the eligible recipients are read once and one queued
// message plus one deferred job is created per recipient at evenly spaced
// offsets. From paused only still-queued messages are re-scheduled; the
// recipient set is never re-scanned.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !campaign.Startable() {
		return nil, fmt.Errorf("%w: campaign is %s", apperrors.ErrNotStartable, campaign.Status)
	}

	connected, err := s.sessions.SessionConnected(ctx, campaign.SessionID)
	if err != nil {
		return nil, fmt.Errorf("campaign service: session check: %w", err)
	}
	if !connected {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrSessionDisconnected, campaign.SessionID)
	}

	resume := campaign.Status == domain.CampaignStatusPaused

	now := time.Now().UTC()
	campaign.Status = domain.CampaignStatusRunning
	campaign.StartedAt = &now
	campaign.UpdatedAt = now
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: mark running: %w", err)
	}

	delay := time.Duration(campaign.DelaySeconds) * time.Second
	if resume {
		if err := s.scheduleQueued(ctx, campaign, now, delay); err != nil {
			return nil, err
		}
		return campaign, nil
	}

	if err := s.scheduleFresh(ctx, campaign, now, delay); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) scheduleFresh(ctx context.Context, campaign *domain.Campaign, startedAt time.Time, delay time.Duration) error {
	recipients, err := s.recipients.ListEligible(ctx, campaign.SourceID)
	if err != nil {
		return fmt.Errorf("campaign service: load recipients: %w", err)
	}

	// An empty run has nothing to account for; with no work unit to trigger
	// the completion check the campaign must finish here, not hang running.
	if len(recipients) == 0 {
		finishedAt := time.Now().UTC()
		if _, err := s.campaigns.MarkFinished(ctx, campaign.ID, finishedAt); err != nil {
			return fmt.Errorf("campaign service: finish empty run: %w", err)
		}
		campaign.Status = domain.CampaignStatusFinished
		campaign.FinishedAt = &finishedAt
		s.logger.Info("campaign finished without eligible recipients",
			zap.String("campaign_id", campaign.ID.String()))
		return nil
	}

	messages := make([]*domain.Message, 0, len(recipients))
	for _, recipient := range recipients {
		messages = append(messages, &domain.Message{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			RecipientID: recipient.ID,
			Phone:       recipient.Phone,
			Status:      domain.MessageStatusQueued,
			CreatedAt:   startedAt,
			UpdatedAt:   startedAt,
		})
	}

	if err := s.messages.BulkInsert(ctx, messages); err != nil {
		return fmt.Errorf("campaign service: create messages: %w", err)
	}

	campaign.TotalRecipients = int64(len(messages))
	if err := s.campaigns.SetTotalRecipients(ctx, campaign.ID, campaign.TotalRecipients); err != nil {
		return fmt.Errorf("campaign service: set total: %w", err)
	}

	for i, message := range messages {
		s.enqueue(ctx, campaign.ID, message.ID, startedAt.Add(sendOffset(i, delay)))
	}

	s.logger.Info("campaign started",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("recipients", len(messages)),
		zap.Int("delay_seconds", campaign.DelaySeconds))
	return nil
}

func (s *Service) scheduleQueued(ctx context.Context, campaign *domain.Campaign, startedAt time.Time, delay time.Duration) error {
	ids, err := s.messages.ListQueuedIDs(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("campaign service: load queued messages: %w", err)
	}

	for i, messageID := range ids {
		s.enqueue(ctx, campaign.ID, messageID, startedAt.Add(sendOffset(i, delay)))
	}

	s.logger.Info("campaign resumed",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("requeued", len(ids)))
	return nil
}

func (s *Service) enqueue(ctx context.Context, campaignID, messageID uuid.UUID, dueAt time.Time) {
	job := queue.SendJob{
		MessageID:  messageID,
		CampaignID: campaignID,
		DueAt:      dueAt,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		// The message row stays queued; a later Start from paused picks it up.
		s.logger.Error("campaign service: enqueue job",
			zap.Error(err),
			zap.String("message_id", messageID.String()))
	}
}

// Pause transitions a running campaign to paused. Already-scheduled work
// units are not revoked; they observe the status flag and no-op.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusRunning {
		return nil, fmt.Errorf("%w: cannot pause a %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}

	campaign.Status = domain.CampaignStatusPaused
	campaign.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: pause: %w", err)
	}
	return campaign, nil
}

// Cancel terminates a campaign. In-flight work units observe the canceled
// state and exit harmlessly.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case domain.CampaignStatusPending, domain.CampaignStatusRunning, domain.CampaignStatusPaused:
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}

	now := time.Now().UTC()
	campaign.Status = domain.CampaignStatusCanceled
	campaign.FinishedAt = &now
	campaign.UpdatedAt = now
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: cancel: %w", err)
	}
	return campaign, nil
}

// Delete removes a campaign and cascades to its messages. Running and paused
// campaigns must be canceled first.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignStatusRunning || campaign.Status == domain.CampaignStatusPaused {
		return fmt.Errorf("%w: cannot delete a %s campaign", apperrors.ErrInvalidTransition, campaign.Status)
	}
	return s.campaigns.Delete(ctx, id)
}

// Status returns the aggregate progress view for polling.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*domain.Progress, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.Progress{
		Status:          campaign.Status,
		TotalRecipients: campaign.TotalRecipients,
		SentCount:       campaign.SentCount,
		FailedCount:     campaign.FailedCount,
	}, nil
}

// ListMessages returns delivery records for a campaign.
func (s *Service) ListMessages(ctx context.Context, campaignID uuid.UUID, limit int, status string) ([]*domain.Message, error) {
	return s.messages.ListByCampaign(ctx, campaignID, limit, status)
}

// RecipientInput expresses one contact to register against a source.
type RecipientInput struct {
	Phone     string
	FirstName string
	LastName  string
	Email     string
	Extra     map[string]string
}

// AddRecipients registers contacts against the campaign's recipient source.
// Contacts without a usable phone number are stored invalid and never
// scheduled.
func (s *Service) AddRecipients(ctx context.Context, campaignID uuid.UUID, inputs []RecipientInput) error {
	if len(inputs) == 0 {
		return nil
	}

	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}

	records := make([]*domain.Recipient, 0, len(inputs))
	for _, in := range inputs {
		phone, ok := normalizePhone(in.Phone)
		records = append(records, &domain.Recipient{
			ID:        uuid.New(),
			SourceID:  campaign.SourceID,
			Phone:     phone,
			Valid:     ok,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Email:     in.Email,
			Extra:     in.Extra,
		})
	}

	if err := s.recipients.BulkInsert(ctx, records); err != nil {
		return fmt.Errorf("campaign service: add recipients: %w", err)
	}
	return nil
}

// ListReceipts returns delivery receipts with an opaque paging token.
type ListReceiptsResult struct {
	Receipts    []repository.DeliveryReceipt
	PagingState []byte
}

func (s *Service) ListReceipts(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) (*ListReceiptsResult, error) {
	receipts, next, err := s.receipts.ListByCampaign(ctx, campaignID, limit, pagingState)
	if err != nil {
		return nil, err
	}
	return &ListReceiptsResult{Receipts: receipts, PagingState: next}, nil
}

// EncodePagingState converts the paging state to base64 for API responses.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return common.EncodeBase64(state)
}

// DecodePagingState decodes a base64 token to paging state bytes.
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return common.DecodeBase64(token)
}

// sendOffset places the i-th recipient on the evenly spaced schedule.
func sendOffset(index int, delay time.Duration) time.Duration {
	return time.Duration(index) * delay
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.SessionID == "" {
		return fmt.Errorf("%w: session id is required", apperrors.ErrValidation)
	}
	if input.SourceID == uuid.Nil {
		return fmt.Errorf("%w: source id is required", apperrors.ErrValidation)
	}
	return input.Payload.Validate()
}

func normalizePhone(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '+':
			return r
		case r == ' ' || r == '-' || r == '(' || r == ')':
			return -1
		}
		return 'x'
	}, strings.TrimSpace(raw))

	if cleaned == "" || strings.ContainsRune(cleaned, 'x') {
		return "", false
	}
	cleaned = strings.TrimPrefix(cleaned, "+")
	if len(cleaned) < 7 {
		return "", false
	}
	return cleaned, true
}
