package send

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/app"
	"github.com/acme/whatsapp-campaign/internal/queue"
)

// Worker consumes send jobs from the send topic and drives the processor.
type Worker struct {
	container *app.Container
	processor *Processor
}

// New creates a send worker wired from the container.
func New(container *app.Container) *Worker {
	repos := container.Repositories()
	processor := NewProcessor(
		repos.Campaigns,
		repos.Messages,
		repos.Recipients,
		container.Providers().WhatsApp,
		container.Dispatchers().OutcomePublisher,
		container.Services().Monitor,
		FileMediaLoader{},
		container.Config.Gateway.RequestTimeout,
		container.Logger.Logger,
	)
	return &Worker{
		container: container,
		processor: processor,
	}
}

// Run starts the consume loop. It returns when ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.SendTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	w.container.Logger.Info("send worker started",
		zap.String("topic", cfg.Kafka.SendTopic),
		zap.String("group", cfg.Kafka.ConsumerGroupID))

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.container.Logger.Error("send worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.handleMessage(ctx, reader, m); err != nil {
			w.container.Logger.Error("send worker: handle", zap.Error(err))
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var job queue.SendJob
	if err := json.Unmarshal(m.Value, &job); err != nil {
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal send job: %w", err)
	}

	tracer := otel.Tracer("wacampaign.sendworker")
	sctx, span := tracer.Start(ctx, "message.send", trace.WithAttributes(
		attribute.String("message.id", job.MessageID.String()),
		attribute.String("campaign.id", job.CampaignID.String()),
	))
	defer span.End()

	w.execute(sctx, job)

	if err := reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

// execute runs the processor with the execution timeout and a panic guard.
// A crashed or expired execution is settled as JOB_FAILED so the campaign's
// completion accounting never stalls on it.
func (w *Worker) execute(ctx context.Context, job queue.SendJob) {
	timeout := w.container.Config.Worker.ExecutionTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = w.processor.Process(execCtx, job)
	}()

	if err == nil {
		return
	}

	w.container.Logger.Error("send worker: execution failed", zap.Error(err),
		zap.String("message_id", job.MessageID.String()))
	// Settlement runs on the parent context; the execution context may
	// already be expired.
	w.processor.HandleJobFailure(ctx, job, err)
}
