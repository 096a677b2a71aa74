package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/app"
)

// Dispatcher promotes due send jobs from the delayed queue to the send topic.
// Jobs wait in Redis ordered by due time; each tick claims the batch whose
// due time has passed and hands it to Kafka for the workers.
type Dispatcher struct {
	container *app.Container
}

// New constructs a dispatcher.
func New(container *app.Container) *Dispatcher {
	return &Dispatcher{container: container}
}

// Run executes the promotion loop until cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	cfg := d.container.Config
	interval := cfg.Dispatcher.TickInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.container.Logger.Info("dispatcher started",
		zap.Duration("tick_interval", interval),
		zap.Int("claim_batch_size", d.batchSize()))

	for {
		if err := d.tick(ctx); err != nil && ctx.Err() == nil {
			d.container.Logger.Error("dispatcher tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) error {
	tracer := otel.Tracer("wacampaign.dispatcher")
	sctx, span := tracer.Start(ctx, "dispatcher.tick")
	defer span.End()

	delayed := d.container.Dispatchers().DelayedQueue
	publisher := d.container.Dispatchers().SendPublisher
	logger := d.container.Logger

	jobs, err := delayed.ClaimDue(sctx, time.Now().UTC(), d.batchSize())
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("jobs.claimed", len(jobs)))
	if len(jobs) == 0 {
		return nil
	}

	published := 0
	for _, job := range jobs {
		if err := publisher.Publish(sctx, job); err != nil {
			span.RecordError(err)
			logger.Error("dispatcher: publish job", zap.Error(err),
				zap.String("message_id", job.MessageID.String()),
				zap.String("campaign_id", job.CampaignID.String()))
			// The claim removed the job from Redis; put it back so the
			// next tick can retry the handoff.
			if reErr := delayed.Enqueue(sctx, job); reErr != nil {
				logger.Error("dispatcher: requeue job", zap.Error(reErr),
					zap.String("message_id", job.MessageID.String()))
			}
			continue
		}
		published++
	}

	logger.Info("dispatcher: promoted jobs",
		zap.Int("claimed", len(jobs)),
		zap.Int("published", published))
	return nil
}

func (d *Dispatcher) batchSize() int {
	size := d.container.Config.Dispatcher.ClaimBatchSize
	if size <= 0 {
		size = 100
	}
	return size
}
