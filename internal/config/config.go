package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Ingest    IngestConfig
	Delivery  DeliveryConfig
	LinkCheck LinkCheckConfig
	Scoring   ScoringConfig
	Messaging MessagingConfig
}

type AppConfig struct {
	AppName      string
	Environment  string
	HTTPPort     string
	LogLevel     string
	MigrationDir string
}

func (a AppConfig) IsDevelopment() bool {
	return a.Environment == "development" || a.Environment == "local"
}

type DatabaseConfig struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ConnectTimeout        time.Duration
	PoolMaxConns          int32
	PoolMinConns          int32
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration
	PoolHealthCheckPeriod time.Duration
	SlowQuery             time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	TTL      time.Duration
}

type AuthConfig struct {
	AdminUsername     string
	AdminPasswordHash string
	JWTAccessSecret   string
	JWTRefreshSecret  string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
}

type IngestConfig struct {
	Schedule          string
	SourceMinInterval time.Duration
	FetchTimeout      time.Duration
	MaxTermsPerRun    int
	PrimarySkills     int
	Sources           []string
	ChromeEnabled     bool
}

type DeliveryConfig struct {
	TickInterval     time.Duration
	MaxDaily         int
	MaxAttempts      int
	SlotLease        time.Duration
	MorningTime      string
	CustomTime       string
	EveningTime      string
	WeeklyDay        time.Weekday
	WeeklyTime       string
	SentLookback     time.Duration
	CandidateLimit   int
	EmptyDigestEvery int
}

type LinkCheckConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	Concurrency    int
	BatchPause     time.Duration
	Freshness      time.Duration
	StaleLimit     int
	PriorityWindow time.Duration
	PriorityLimit  int
	URLCacheTTL    time.Duration
	StaleSchedule  string
	HourlySchedule string
	BrokenSchedule string
}

type ScoringConfig struct {
	SkillWeight          float64
	LocationWeight       float64
	JobTypeWeight        float64
	RecencyFullBonus     float64
	RecencyPartialBonus  float64
	RecencyFullWithin    time.Duration
	RecencyPartialWithin time.Duration
	MinRelevance         float64
}

type MessagingConfig struct {
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
	DryRun       bool
}

var (
	errMissingRequiredEnv = errors.New("missing required environment variables")
	errInvalidEnv         = errors.New("invalid environment variables")
)

func Load() (Config, error) {
	cfg := Config{}

	var missing []string
	var invalid []string
	req := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	opt := func(key string, def string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		return v
	}
	optInt := func(key string, def int) int {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optFloat := func(key string, def float64) float64 {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optDuration := func(key string, def time.Duration) time.Duration {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := time.ParseDuration(raw)
		if err != nil || v < 0 {
			invalid = append(invalid, key)
			return def
		}
		return v
	}
	optBool := func(key string, def bool) bool {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return v
	}

	cfg.App = AppConfig{
		AppName:      req("APP_NAME"),
		Environment:  req("APP_ENV"),
		HTTPPort:     req("HTTP_PORT"),
		LogLevel:     opt("LOG_LEVEL", "info"),
		MigrationDir: opt("MIGRATION_DIR", "migrations"),
	}

	cfg.Database = DatabaseConfig{
		DBHost:                req("DB_HOST"),
		DBPort:                opt("DB_PORT", "5432"),
		DBName:                req("DB_NAME"),
		DBUser:                req("DB_USER"),
		DBPassword:            opt("DB_PASSWORD", ""),
		DBSSLMode:             opt("DB_SSL_MODE", "disable"),
		ConnectTimeout:        optDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
		PoolMaxConns:          int32(optInt("DB_POOL_MAX_CONNS", 10)),
		PoolMinConns:          int32(optInt("DB_POOL_MIN_CONNS", 0)),
		PoolMaxConnLifetime:   optDuration("DB_POOL_MAX_CONN_LIFETIME", time.Hour),
		PoolMaxConnIdleTime:   optDuration("DB_POOL_MAX_CONN_IDLE_TIME", 30*time.Minute),
		PoolHealthCheckPeriod: optDuration("DB_POOL_HEALTH_CHECK_PERIOD", time.Minute),
		SlowQuery:             optDuration("DB_SLOW_QUERY", 500*time.Millisecond),
	}

	cfg.Redis = RedisConfig{
		Host:     opt("REDIS_HOST", "localhost"),
		Port:     opt("REDIS_PORT", "6379"),
		Password: opt("REDIS_PASSWORD", ""),
		DB:       optInt("REDIS_DB", 0),
		TTL:      optDuration("REDIS_TTL", 10*time.Minute),
	}

	cfg.Auth = AuthConfig{
		AdminUsername:     opt("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: req("ADMIN_PASSWORD_HASH"),
		JWTAccessSecret:   req("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:  req("JWT_REFRESH_SECRET"),
		AccessTokenTTL:    optDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL:   optDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
	}

	cfg.Ingest = IngestConfig{
		Schedule:          opt("INGEST_SCHEDULE", "0 6 * * *"),
		SourceMinInterval: optDuration("INGEST_SOURCE_MIN_INTERVAL", 5*time.Second),
		FetchTimeout:      optDuration("INGEST_FETCH_TIMEOUT", 10*time.Second),
		MaxTermsPerRun:    optInt("INGEST_MAX_TERMS", 10),
		PrimarySkills:     optInt("INGEST_PRIMARY_SKILLS", 3),
		Sources:           splitList(opt("INGEST_SOURCES", "")),
		ChromeEnabled:     optBool("INGEST_CHROME_ENABLED", false),
	}

	cfg.Delivery = DeliveryConfig{
		TickInterval:     optDuration("DELIVERY_TICK_INTERVAL", time.Minute),
		MaxDaily:         optInt("DELIVERY_MAX_DAILY", 3),
		MaxAttempts:      optInt("DELIVERY_MAX_ATTEMPTS", 3),
		SlotLease:        optDuration("DELIVERY_SLOT_LEASE", 5*time.Minute),
		MorningTime:      opt("DELIVERY_MORNING_TIME", "08:00"),
		CustomTime:       opt("DELIVERY_CUSTOM_TIME", "13:00"),
		EveningTime:      opt("DELIVERY_EVENING_TIME", "18:00"),
		WeeklyDay:        time.Weekday(optInt("DELIVERY_WEEKLY_DAY", int(time.Monday)) % 7),
		WeeklyTime:       opt("DELIVERY_WEEKLY_TIME", "09:00"),
		SentLookback:     optDuration("DELIVERY_SENT_LOOKBACK", 30*24*time.Hour),
		CandidateLimit:   optInt("DELIVERY_CANDIDATE_LIMIT", 50),
		EmptyDigestEvery: optInt("DELIVERY_EMPTY_DIGEST_EVERY", 3),
	}

	cfg.LinkCheck = LinkCheckConfig{
		Timeout:        optDuration("LINKCHECK_TIMEOUT", 10*time.Second),
		MaxRetries:     optInt("LINKCHECK_MAX_RETRIES", 2),
		BackoffBase:    optDuration("LINKCHECK_BACKOFF_BASE", time.Second),
		Concurrency:    optInt("LINKCHECK_CONCURRENCY", 5),
		BatchPause:     optDuration("LINKCHECK_BATCH_PAUSE", time.Second),
		Freshness:      optDuration("LINKCHECK_FRESHNESS", 24*time.Hour),
		StaleLimit:     optInt("LINKCHECK_STALE_LIMIT", 200),
		PriorityWindow: optDuration("LINKCHECK_PRIORITY_WINDOW", 6*time.Hour),
		PriorityLimit:  optInt("LINKCHECK_PRIORITY_LIMIT", 20),
		URLCacheTTL:    optDuration("LINKCHECK_URL_CACHE_TTL", 30*time.Minute),
		StaleSchedule:  opt("LINKCHECK_STALE_SCHEDULE", "0 2 * * *"),
		HourlySchedule: opt("LINKCHECK_HOURLY_SCHEDULE", "15 * * * *"),
		BrokenSchedule: opt("LINKCHECK_BROKEN_SCHEDULE", "0 2 * * 0"),
	}

	cfg.Scoring = ScoringConfig{
		SkillWeight:          optFloat("SCORE_SKILL_WEIGHT", 0.4),
		LocationWeight:       optFloat("SCORE_LOCATION_WEIGHT", 0.3),
		JobTypeWeight:        optFloat("SCORE_JOB_TYPE_WEIGHT", 0.2),
		RecencyFullBonus:     optFloat("SCORE_RECENCY_FULL", 0.1),
		RecencyPartialBonus:  optFloat("SCORE_RECENCY_PARTIAL", 0.05),
		RecencyFullWithin:    optDuration("SCORE_RECENCY_FULL_WITHIN", 24*time.Hour),
		RecencyPartialWithin: optDuration("SCORE_RECENCY_PARTIAL_WITHIN", 72*time.Hour),
		MinRelevance:         optFloat("SCORE_MIN_RELEVANCE", 0.6),
	}

	cfg.Messaging = MessagingConfig{
		WebhookURL:   opt("MESSAGING_WEBHOOK_URL", ""),
		WebhookToken: opt("MESSAGING_WEBHOOK_TOKEN", ""),
		Timeout:      optDuration("MESSAGING_TIMEOUT", 15*time.Second),
		DryRun:       optBool("MESSAGING_DRY_RUN", false),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errMissingRequiredEnv, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errInvalidEnv, strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
