package receipt

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/app"
	"github.com/acme/whatsapp-campaign/internal/queue"
	"github.com/acme/whatsapp-campaign/internal/repository"
)

// Worker consumes send outcomes and appends them to the receipt store.
type Worker struct {
	container *app.Container
}

// New creates a receipt worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes outcome events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ReceiptConsumerGroupID
	if groupID == "" {
		groupID = cfg.Kafka.ConsumerGroupID + "-receipts"
	}
	reader := w.container.Kafka.NewReader(cfg.Kafka.OutcomeTopic, groupID)
	defer reader.Close()

	store := w.container.Repositories().Receipts
	logger := w.container.Logger

	logger.Info("receipt worker started",
		zap.String("topic", cfg.Kafka.OutcomeTopic),
		zap.String("group", groupID))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("receipt worker: fetch", zap.Error(err))
			continue
		}

		var event queue.OutcomeEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("receipt worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("wacampaign.receiptworker")
		sctx, span := tracer.Start(ctx, "receipt.append", trace.WithAttributes(
			attribute.String("message.id", event.MessageID.String()),
			attribute.String("campaign.id", event.CampaignID.String()),
			attribute.String("status", event.Status),
		))

		receipt := repository.DeliveryReceipt{
			MessageID:         event.MessageID,
			CampaignID:        event.CampaignID,
			Phone:             event.Phone,
			Status:            event.Status,
			ErrorCode:         event.ErrorCode,
			Error:             event.Error,
			ProviderMessageID: event.ProviderMessageID,
			DurationMs:        event.DurationMs,
			OccurredAt:        event.OccurredAt,
		}
		if err := store.Append(sctx, receipt); err != nil {
			span.RecordError(err)
			logger.Error("receipt worker: append", zap.Error(err),
				zap.String("message_id", event.MessageID.String()))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("receipt worker: commit", zap.Error(err))
		}
		span.End()
	}
}
