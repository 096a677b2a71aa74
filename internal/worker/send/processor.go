package send

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/gateway"
	"github.com/acme/whatsapp-campaign/internal/queue"
	"github.com/acme/whatsapp-campaign/internal/render"
	"github.com/acme/whatsapp-campaign/internal/repository"
	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

// CompletionChecker runs the campaign completion check after an outcome.
type CompletionChecker interface {
	Check(ctx context.Context, campaignID uuid.UUID) error
}

// OutcomePublisher emits settled-send events to the outcome topic.
type OutcomePublisher interface {
	Publish(ctx context.Context, event queue.OutcomeEvent) error
}

// MediaLoader resolves campaign media content by path.
type MediaLoader interface {
	Load(path string) ([]byte, error)
}

// FileMediaLoader reads media from the local filesystem.
type FileMediaLoader struct{}

func (FileMediaLoader) Load(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", path, err)
	}
	return content, nil
}

// Processor executes one send job. Every step fails closed: a job whose
// message or campaign is no longer in a sendable state settles or no-ops
// without touching the gateway, and each real execution moves exactly one
// counter.
type Processor struct {
	campaigns  repository.CampaignRepository
	messages   repository.MessageRepository
	recipients repository.RecipientRepository
	provider   gateway.Provider
	outcomes   OutcomePublisher
	completion CompletionChecker
	media      MediaLoader
	timeout    time.Duration
	logger     *zap.Logger
}

// NewProcessor constructs a send processor. timeout bounds the gateway call.
func NewProcessor(
	campaigns repository.CampaignRepository,
	messages repository.MessageRepository,
	recipients repository.RecipientRepository,
	provider gateway.Provider,
	outcomes OutcomePublisher,
	completion CompletionChecker,
	media MediaLoader,
	timeout time.Duration,
	logger *zap.Logger,
) *Processor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if media == nil {
		media = FileMediaLoader{}
	}
	return &Processor{
		campaigns:  campaigns,
		messages:   messages,
		recipients: recipients,
		provider:   provider,
		outcomes:   outcomes,
		completion: completion,
		media:      media,
		timeout:    timeout,
		logger:     logger,
	}
}

// Process handles one delivery attempt.
func (p *Processor) Process(ctx context.Context, job queue.SendJob) error {
	message, err := p.messages.Get(ctx, job.MessageID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			p.logger.Warn("send worker: message vanished",
				zap.String("message_id", job.MessageID.String()))
			return nil
		}
		return fmt.Errorf("send worker: load message: %w", err)
	}

	// A redelivered or duplicated job observes a settled row and drops out.
	if message.Status != domain.MessageStatusQueued {
		return nil
	}

	campaign, err := p.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			p.settleFailure(ctx, message, nil, "", domain.ErrorCodeCampaignNotFound, "campaign no longer exists")
			return nil
		}
		return fmt.Errorf("send worker: load campaign: %w", err)
	}

	// Paused or canceled campaigns leave the message queued. A later Start
	// re-schedules it; cancel lets it rest untouched.
	if campaign.Status != domain.CampaignStatusRunning {
		return nil
	}

	connected, err := p.provider.SessionConnected(ctx, campaign.SessionID)
	if err != nil {
		p.settleFailure(ctx, message, campaign, "", domain.ErrorCodeSessionDisconnected, err.Error())
		return nil
	}
	if !connected {
		p.settleFailure(ctx, message, campaign, "", domain.ErrorCodeSessionDisconnected,
			fmt.Sprintf("session %s is not connected", campaign.SessionID))
		return nil
	}

	recipient, err := p.recipients.Get(ctx, message.RecipientID)
	if err != nil {
		p.settleFailure(ctx, message, campaign, "", domain.ErrorCodeSendError, "recipient record missing")
		return nil
	}

	body := render.Render(campaign.Payload.Body, *recipient)

	media, err := p.loadMedia(campaign.Payload)
	if err != nil {
		p.settleFailure(ctx, message, campaign, body, domain.ErrorCodeSendError, err.Error())
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	started := time.Now()
	receipt, sendErr := gateway.Dispatch(sendCtx, p.provider, message.Phone, body, campaign.Payload, media)
	duration := time.Since(started)
	cancel()

	if sendErr != nil {
		p.settleFailureWithDuration(ctx, message, campaign, body, domain.ErrorCodeSendError, sendErr.Error(), duration)
		return nil
	}

	p.settleSuccess(ctx, message, campaign, body, receipt, duration)
	return nil
}

// HandleJobFailure settles a job whose execution crashed or timed out, so a
// dead unit cannot stall the campaign forever.
func (p *Processor) HandleJobFailure(ctx context.Context, job queue.SendJob, cause error) {
	message, err := p.messages.Get(ctx, job.MessageID)
	if err != nil {
		p.logger.Error("send worker: job failure lookup", zap.Error(err),
			zap.String("message_id", job.MessageID.String()))
		return
	}
	if message.Status != domain.MessageStatusQueued {
		return
	}

	campaign, err := p.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		campaign = nil
	}

	text := "job execution failed"
	if cause != nil {
		text = cause.Error()
	}
	p.settleFailure(ctx, message, campaign, "", domain.ErrorCodeJobFailed, text)
}

func (p *Processor) settleSuccess(ctx context.Context, message *domain.Message, campaign *domain.Campaign, body string, receipt gateway.Receipt, duration time.Duration) {
	sentAt := time.Now().UTC()
	transitioned, err := p.messages.MarkSent(ctx, message.ID, body, sentAt)
	if err != nil {
		p.logger.Error("send worker: mark sent", zap.Error(err),
			zap.String("message_id", message.ID.String()))
		return
	}
	if !transitioned {
		return
	}

	if err := p.campaigns.IncrementSent(ctx, campaign.ID); err != nil {
		p.logger.Error("send worker: increment sent", zap.Error(err),
			zap.String("campaign_id", campaign.ID.String()))
	}

	p.publishOutcome(ctx, queue.OutcomeEvent{
		MessageID:         message.ID,
		CampaignID:        campaign.ID,
		Phone:             message.Phone,
		Status:            string(domain.MessageStatusSent),
		ProviderMessageID: receipt.ProviderMessageID,
		DurationMs:        duration.Milliseconds(),
		OccurredAt:        sentAt,
	})
	p.checkCompletion(ctx, campaign.ID)
}

func (p *Processor) settleFailure(ctx context.Context, message *domain.Message, campaign *domain.Campaign, body, errorCode, errorText string) {
	p.settleFailureWithDuration(ctx, message, campaign, body, errorCode, errorText, 0)
}

func (p *Processor) settleFailureWithDuration(ctx context.Context, message *domain.Message, campaign *domain.Campaign, body, errorCode, errorText string, duration time.Duration) {
	errorText = domain.TruncateError(errorText)
	transitioned, err := p.messages.MarkFailed(ctx, message.ID, body, errorCode, errorText)
	if err != nil {
		p.logger.Error("send worker: mark failed", zap.Error(err),
			zap.String("message_id", message.ID.String()))
		return
	}
	if !transitioned {
		return
	}

	event := queue.OutcomeEvent{
		MessageID:  message.ID,
		CampaignID: message.CampaignID,
		Phone:      message.Phone,
		Status:     string(domain.MessageStatusFailed),
		ErrorCode:  errorCode,
		Error:      errorText,
		DurationMs: duration.Milliseconds(),
		OccurredAt: time.Now().UTC(),
	}

	// Without a campaign row there is no counter to move and nothing to
	// complete.
	if campaign != nil {
		if err := p.campaigns.IncrementFailed(ctx, campaign.ID); err != nil {
			p.logger.Error("send worker: increment failed", zap.Error(err),
				zap.String("campaign_id", campaign.ID.String()))
		}
	}

	p.publishOutcome(ctx, event)

	if campaign != nil {
		p.checkCompletion(ctx, campaign.ID)
	}
}

func (p *Processor) loadMedia(payload domain.Payload) (gateway.Media, error) {
	switch payload.Type {
	case domain.MessageTypeImage, domain.MessageTypeVideo, domain.MessageTypeAudio, domain.MessageTypeFile:
	default:
		return gateway.Media{}, nil
	}

	content, err := p.media.Load(payload.MediaPath)
	if err != nil {
		return gateway.Media{}, err
	}

	filename := payload.Filename
	if filename == "" {
		filename = filepath.Base(payload.MediaPath)
	}
	return gateway.Media{Content: content, Filename: filename}, nil
}

func (p *Processor) publishOutcome(ctx context.Context, event queue.OutcomeEvent) {
	if p.outcomes == nil {
		return
	}
	if err := p.outcomes.Publish(ctx, event); err != nil {
		p.logger.Warn("send worker: publish outcome", zap.Error(err),
			zap.String("message_id", event.MessageID.String()))
	}
}

func (p *Processor) checkCompletion(ctx context.Context, campaignID uuid.UUID) {
	if p.completion == nil {
		return
	}
	if err := p.completion.Check(ctx, campaignID); err != nil {
		p.logger.Error("send worker: completion check", zap.Error(err),
			zap.String("campaign_id", campaignID.String()))
	}
}
