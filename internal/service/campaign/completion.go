package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/repository"
	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

// Monitor closes campaigns whose deliveries are fully accounted for. Every
// send outcome triggers a check; the guarded MarkFinished makes concurrent
// checks converge on a single finished transition and never overrides a
// cancel.
type Monitor struct {
	campaigns repository.CampaignRepository
	logger    *zap.Logger
}

// NewMonitor constructs a completion monitor.
func NewMonitor(campaigns repository.CampaignRepository, logger *zap.Logger) *Monitor {
	return &Monitor{campaigns: campaigns, logger: logger}
}

// Check reads the campaign fresh and finishes it when every message has
// settled. A missing campaign is not an error here; the campaign may have
// been deleted while outcomes were still in flight.
func (m *Monitor) Check(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := m.campaigns.Get(ctx, campaignID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("completion check: load campaign: %w", err)
	}

	if campaign.Status != domain.CampaignStatusRunning || !campaign.Accounted() {
		return nil
	}

	finished, err := m.campaigns.MarkFinished(ctx, campaignID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("completion check: mark finished: %w", err)
	}
	if finished {
		m.logger.Info("campaign finished",
			zap.String("campaign_id", campaignID.String()),
			zap.Int64("sent", campaign.SentCount),
			zap.Int64("failed", campaign.FailedCount))
	}
	return nil
}
