package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/whatsapp-campaign/internal/config"
	"github.com/acme/whatsapp-campaign/internal/gateway"
	"github.com/acme/whatsapp-campaign/internal/infra/db"
	"github.com/acme/whatsapp-campaign/internal/infra/redis"
	"github.com/acme/whatsapp-campaign/internal/queue"
	"github.com/acme/whatsapp-campaign/internal/repository"
	pgrepo "github.com/acme/whatsapp-campaign/internal/repository/postgres"
	scyllarepo "github.com/acme/whatsapp-campaign/internal/repository/scylla"
	campaignsvc "github.com/acme/whatsapp-campaign/internal/service/campaign"
	"github.com/acme/whatsapp-campaign/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		dispatchers  *dispatchers
		providers    *providers
	}
}

type repositories struct {
	Campaigns  repository.CampaignRepository
	Messages   repository.MessageRepository
	Recipients repository.RecipientRepository
	Receipts   repository.ReceiptStore
}

type services struct {
	Campaign *campaignsvc.Service
	Monitor  *campaignsvc.Monitor
}

type dispatchers struct {
	SendPublisher    *queue.SendPublisher
	OutcomePublisher *queue.OutcomePublisher
	DelayedQueue     *queue.DelayedQueue
}

type providers struct {
	WhatsApp gateway.Provider
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns:  pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Messages:   pgrepo.NewMessageRepository(c.Postgres.DB()),
			Recipients: pgrepo.NewRecipientRepository(c.Postgres.DB()),
			Receipts:   scyllarepo.NewReceiptStore(c.Scylla.Session()),
		}

		disp := &dispatchers{
			SendPublisher:    queue.NewSendPublisher(c.Kafka, c.Config.Kafka.SendTopic),
			OutcomePublisher: queue.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic),
			DelayedQueue:     queue.NewDelayedQueue(c.Redis.Inner(), c.Config.Dispatcher.QueueKey),
		}

		providers := &providers{
			WhatsApp: gateway.NewWhatsAppBridge(c.Config.Gateway),
		}

		services := &services{
			Campaign: campaignsvc.NewService(
				repos.Campaigns,
				repos.Messages,
				repos.Recipients,
				repos.Receipts,
				disp.DelayedQueue,
				providers.WhatsApp,
				c.Config.Throttle,
				c.Logger.Logger,
			),
			Monitor: campaignsvc.NewMonitor(repos.Campaigns, c.Logger.Logger),
		}

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.services = services
		c.components.providers = providers
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Dispatchers exposes queue publishers and the delayed job queue.
func (c *Container) Dispatchers() *dispatchers {
	c.initComponents()
	return c.components.dispatchers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if d.SendPublisher != nil {
			if err := d.SendPublisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("send publisher close: %w", err))
			}
		}
		if d.OutcomePublisher != nil {
			if err := d.OutcomePublisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.SendTopic, c.Config.Kafka.OutcomeTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 48, 1)
}
