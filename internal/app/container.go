package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/pbx-autodialer/internal/config"
	"github.com/acme/pbx-autodialer/internal/dialer"
	"github.com/acme/pbx-autodialer/internal/dialer/freeswitch"
	"github.com/acme/pbx-autodialer/internal/dialer/mock"
	"github.com/acme/pbx-autodialer/internal/infra/db"
	"github.com/acme/pbx-autodialer/internal/infra/redis"
	"github.com/acme/pbx-autodialer/internal/queue"
	"github.com/acme/pbx-autodialer/internal/repository"
	pgrepo "github.com/acme/pbx-autodialer/internal/repository/postgres"
	scyllarepo "github.com/acme/pbx-autodialer/internal/repository/scylla"
	campaignsvc "github.com/acme/pbx-autodialer/internal/service/campaign"
	cdrsvc "github.com/acme/pbx-autodialer/internal/service/cdr"
	jobsvc "github.com/acme/pbx-autodialer/internal/service/job"
	"github.com/acme/pbx-autodialer/pkg/logger"
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
		repositories *Repositories
		services     *Services
		publishers   *Publishers
		adapter      dialer.Adapter
	}
}

// Repositories groups the persistence layer.
type Repositories struct {
	Campaigns repository.CampaignRepository
	Leads     repository.LeadRepository
	Jobs      repository.JobRepository
	Billing   repository.BillingConfigRepository
	CDRs      repository.CDRStore
}

// Services groups the domain services.
type Services struct {
	Campaign *campaignsvc.Service
	Job      *jobsvc.Service
	CDR      *cdrsvc.Service
}

// Publishers groups Kafka producers.
type Publishers struct {
	Outcomes *queue.OutcomePublisher
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

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &Repositories{
			Campaigns: pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Leads:     pgrepo.NewLeadRepository(c.Postgres.DB()),
			Jobs:      pgrepo.NewJobRepository(c.Postgres.DB()),
			Billing:   pgrepo.NewBillingConfigRepository(c.Postgres.DB()),
			CDRs:      scyllarepo.NewCDRStore(c.Scylla.Session()),
		}

		publishers := &Publishers{
			Outcomes: queue.NewOutcomePublisher(c.Kafka, c.Config.Kafka.StatusTopic),
		}

		var adapter dialer.Adapter
		switch c.Config.Dialer.Provider {
		case "freeswitch":
			adapter = freeswitch.NewAdapter(c.Config.Dialer)
		default:
			adapter = mock.NewAdapter(c.Config.Dialer)
		}

		services := &Services{
			Campaign: campaignsvc.NewService(repos.Campaigns, repos.Leads, c.Config.Dialer.DefaultMaxConcurrent),
		}
		services.Job = jobsvc.NewService(
			repos.Jobs,
			repos.Leads,
			repos.Campaigns,
			adapter,
			jobsvc.Options{
				Gateway:          c.Config.Dialer.Gateway,
				OriginateTimeout: c.Config.Dialer.RequestTimeout,
				CallerIDName:     c.Config.Dialer.CallerIDName,
				CallerIDNumber:   c.Config.Dialer.CallerIDNumber,
			},
			c.Logger.Named("job"),
		)
		services.CDR = cdrsvc.NewService(
			repos.CDRs,
			repos.Billing,
			repos.Jobs,
			repos.Leads,
			services.Job,
			publishers.Outcomes,
			c.Logger.Named("cdr"),
		)

		c.components.repositories = repos
		c.components.publishers = publishers
		c.components.services = services
		c.components.adapter = adapter
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *Repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *Services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka producers.
func (c *Container) Publishers() *Publishers {
	c.initComponents()
	return c.components.publishers
}

// Adapter exposes the configured telephony backend.
func (c *Container) Adapter() dialer.Adapter {
	c.initComponents()
	return c.components.adapter
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.CDRTopic, c.Config.Kafka.StatusTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publishers != nil && c.components.publishers.Outcomes != nil {
		if err := c.components.publishers.Outcomes.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
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
