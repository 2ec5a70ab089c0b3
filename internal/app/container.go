package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"jobpulse/internal/config"
	"jobpulse/internal/database"
	"jobpulse/internal/database/migration"
	dbpostgres "jobpulse/internal/database/postgres"
	"jobpulse/internal/database/seeder"
	"jobpulse/internal/dedup"
	"jobpulse/internal/domain/matching"
	"jobpulse/internal/domain/notification"
	"jobpulse/internal/domain/subscriber"
	"jobpulse/internal/infrastructure/cache"
	"jobpulse/internal/ingest"
	"jobpulse/internal/linkcheck"
	"jobpulse/internal/logger"
	"jobpulse/internal/messaging"
	"jobpulse/internal/notify"
	"jobpulse/internal/pkg/jwt"
	"jobpulse/internal/repository"
	"jobpulse/internal/scheduler"
	"jobpulse/internal/scraper"
	"jobpulse/internal/usecase"
	"jobpulse/internal/ws"
	"jobpulse/migrations"
)

type Container struct {
	Config config.Config
	Log    logger.Logger
	DB     database.DB
	Cache  *cache.Redis
	Hub    *ws.Hub

	Registry      *scraper.Registry
	Jobs          *repository.PostgresJobRepository
	Subscribers   *repository.PostgresSubscriberRepository
	Notifications *repository.PostgresNotificationRepository
	LinkChecks    *repository.PostgresLinkCheckRepository
	ScrapeRuns    *repository.PostgresScrapeRunRepository
	Sources       *repository.PostgresJobSourceRepository

	Ingest    *ingest.Orchestrator
	Scheduler *scheduler.Scheduler
	Links     *linkcheck.Checker

	JWT  *jwt.HMACService
	Auth *usecase.Auth
	Ops  *usecase.Ops
}

func NewContainer(cfg config.Config, log logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := dbpostgres.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	c := &Container{
		Config: cfg,
		Log:    log,
		DB:     db,
		Cache:  cache.NewRedis(cfg.Redis, log),
		Hub:    ws.NewHub(log.With(logger.String("component", "ws"))),

		Registry:      scraper.NewDefaultRegistry(cfg.Ingest.ChromeEnabled),
		Jobs:          repository.NewPostgresJobRepository(db),
		Subscribers:   repository.NewPostgresSubscriberRepository(db),
		Notifications: repository.NewPostgresNotificationRepository(db),
		LinkChecks:    repository.NewPostgresLinkCheckRepository(db),
		ScrapeRuns:    repository.NewPostgresScrapeRunRepository(db),
		Sources:       repository.NewPostgresJobSourceRepository(db),
	}

	c.Ingest = ingest.NewOrchestrator(
		c.Registry,
		c.Jobs,
		dedup.New(c.Jobs, c.Cache, 0, log),
		c.Subscribers,
		ingest.Config{
			MinInterval:   cfg.Ingest.SourceMinInterval,
			CallTimeout:   cfg.Ingest.FetchTimeout,
			MaxTerms:      cfg.Ingest.MaxTermsPerRun,
			PrimarySkills: cfg.Ingest.PrimarySkills,
			Sources:       cfg.Ingest.Sources,
		},
		log.With(logger.String("component", "ingest")),
		ingest.WithRunRecorder(c.ScrapeRuns),
		ingest.WithSourceFilter(c.Sources),
		ingest.WithPublisher(c.Hub),
	)

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.Scheduler = scheduler.New(
		c.Subscribers,
		c.Notifications,
		c.Jobs,
		notify.NewComposer(notify.WithEmptyPolicy(notify.EveryNHours(cfg.Delivery.EmptyDigestEvery))),
		newSender(cfg.Messaging, log),
		schedCfg,
		log.With(logger.String("component", "scheduler")),
		c.Hub,
	)

	c.Links = linkcheck.New(
		c.Jobs,
		c.LinkChecks,
		linkcheck.Config{
			Timeout:        cfg.LinkCheck.Timeout,
			MaxRetries:     cfg.LinkCheck.MaxRetries,
			BackoffBase:    cfg.LinkCheck.BackoffBase,
			Concurrency:    cfg.LinkCheck.Concurrency,
			BatchPause:     cfg.LinkCheck.BatchPause,
			Freshness:      cfg.LinkCheck.Freshness,
			StaleLimit:     cfg.LinkCheck.StaleLimit,
			PriorityWindow: cfg.LinkCheck.PriorityWindow,
			PriorityLimit:  cfg.LinkCheck.PriorityLimit,
			URLCacheTTL:    cfg.LinkCheck.URLCacheTTL,
		},
		log.With(logger.String("component", "linkcheck")),
		linkcheck.WithCache(c.Cache),
		linkcheck.WithPublisher(c.Hub),
	)

	c.JWT = jwt.NewHMACService(
		cfg.Auth.JWTAccessSecret,
		cfg.Auth.JWTRefreshSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	c.Auth = usecase.NewAuthUsecase(cfg.Auth.AdminUsername, cfg.Auth.AdminPasswordHash, c.JWT)
	c.Ops = usecase.NewOpsUsecase(c.Ingest, c.Scheduler, c.Links, c.Notifications, c.ScrapeRuns, c.Sources)

	return c, nil
}

// Migrate applies schema migrations and seeds. A migrations directory on
// disk wins over the embedded copy.
func (c *Container) Migrate(ctx context.Context) error {
	var src fs.FS = migrations.FS
	if dir := c.Config.App.MigrationDir; dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			src = nil
		}
	}
	r := migration.Runner{Source: src, Dir: c.Config.App.MigrationDir, Log: c.Log}
	if err := r.Run(ctx, c.DB.SQLDB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	seeds := make([]seeder.SourceSeed, 0)
	for _, name := range c.Registry.Names() {
		g, _ := c.Registry.Group(name)
		seeds = append(seeds, seeder.SourceSeed{Name: name, Group: string(g)})
	}
	s := seeder.Runner{Seeders: seeder.Defaults(seeds, c.Config.App.IsDevelopment()), Log: c.Log}
	if err := s.Run(ctx, c.DB); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

// RegisterTriggers binds the recurring core entry points to their schedules.
func (c *Container) RegisterTriggers(t *Triggers) error {
	cfg := c.Config
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"ingest", cfg.Ingest.Schedule, func(ctx context.Context) error {
			_, err := c.Ingest.RunScheduled(ctx)
			return err
		}},
		{"delivery", fmt.Sprintf("@every %s", cfg.Delivery.TickInterval), func(ctx context.Context) error {
			_, err := c.Scheduler.Tick(ctx, time.Now())
			return err
		}},
		{"links-stale", cfg.LinkCheck.StaleSchedule, func(ctx context.Context) error {
			_, err := c.Links.VerifyStale(ctx)
			return err
		}},
		{"links-priority", cfg.LinkCheck.HourlySchedule, func(ctx context.Context) error {
			_, err := c.Links.VerifyPriority(ctx)
			return err
		}},
		{"links-broken", cfg.LinkCheck.BrokenSchedule, func(ctx context.Context) error {
			_, err := c.Links.RecheckBroken(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := t.Add(j.name, j.spec, j.run); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

func newSender(cfg config.MessagingConfig, log logger.Logger) messaging.Sender {
	if cfg.DryRun || cfg.WebhookURL == "" {
		log.Warn("messaging in dry-run mode, notifications are only logged")
		return messaging.NewDryRunSender(log)
	}
	return messaging.NewWebhookSender(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout, log)
}

func schedulerConfig(cfg config.Config) (scheduler.Config, error) {
	d := cfg.Delivery
	parse := func(key, raw string) (subscriber.TimeOfDay, error) {
		t, err := subscriber.ParseTimeOfDay(raw)
		if err != nil {
			return subscriber.TimeOfDay{}, fmt.Errorf("%s: %w", key, err)
		}
		return t, nil
	}

	morning, err := parse("DELIVERY_MORNING_TIME", d.MorningTime)
	if err != nil {
		return scheduler.Config{}, err
	}
	custom, err := parse("DELIVERY_CUSTOM_TIME", d.CustomTime)
	if err != nil {
		return scheduler.Config{}, err
	}
	evening, err := parse("DELIVERY_EVENING_TIME", d.EveningTime)
	if err != nil {
		return scheduler.Config{}, err
	}
	weekly, err := parse("DELIVERY_WEEKLY_TIME", d.WeeklyTime)
	if err != nil {
		return scheduler.Config{}, err
	}

	s := cfg.Scoring
	return scheduler.Config{
		TickInterval:   d.TickInterval,
		MaxDaily:       d.MaxDaily,
		MaxAttempts:    d.MaxAttempts,
		SlotLease:      d.SlotLease,
		SentLookback:   d.SentLookback,
		CandidateLimit: d.CandidateLimit,
		Times: map[notification.Window]subscriber.TimeOfDay{
			notification.WindowMorning: morning,
			notification.WindowCustom:  custom,
			notification.WindowEvening: evening,
		},
		WeeklyDay:  d.WeeklyDay,
		WeeklyTime: weekly,
		Weights: matching.Weights{
			Skill:                s.SkillWeight,
			Location:             s.LocationWeight,
			JobType:              s.JobTypeWeight,
			RecencyFull:          s.RecencyFullBonus,
			RecencyPartial:       s.RecencyPartialBonus,
			RecencyFullWithin:    s.RecencyFullWithin,
			RecencyPartialWithin: s.RecencyPartialWithin,
			MinRelevance:         s.MinRelevance,
		},
	}, nil
}
