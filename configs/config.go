package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/joho/godotenv"
	"github.com/maheshrc27/campaignflow/pkg/logger"
)

const (
	StalePolicyFastTrack = "fast-track"
	StalePolicyFail      = "fail"
)

type R2 struct {
	AccountID  string `yaml:"account_id"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	BucketName string `yaml:"bucket_name"`
}

// RetryPolicy drives the backoff between delivery attempts.
type RetryPolicy struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxRetries int           `yaml:"max_retries"`
	// Jitter is the fraction of the computed delay added at random, 0..1.
	Jitter float64 `yaml:"jitter"`
}

func (p RetryPolicy) Validate() error {
	var errs []error
	if p.BaseDelay <= 0 {
		errs = append(errs, errors.New("base_delay must be positive"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("multiplier must be >= 1"))
	}
	if p.MaxDelay < p.BaseDelay {
		errs = append(errs, errors.New("max_delay must be >= base_delay"))
	}
	if p.MaxRetries < 1 {
		errs = append(errs, errors.New("max_retries must be >= 1"))
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		errs = append(errs, errors.New("jitter must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// fill copies def into every unset field. Jitter is only defaulted together
// with the rest, so an explicit zero jitter survives a partial override.
func (p *RetryPolicy) fill(def RetryPolicy) {
	if *p == (RetryPolicy{}) {
		*p = def
		return
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = def.MaxRetries
	}
}

type RateLimitConfig struct {
	Capacity        int           `yaml:"capacity"`
	RefillPerSecond float64       `yaml:"refill_per_second"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

type Lane struct {
	Concurrency int `yaml:"concurrency"`
	// Priority is the weight of the lane's high priority queue against its
	// normal one.
	Priority int `yaml:"priority"`
}

type LanesConfig struct {
	Delivery    Lane `yaml:"delivery"`
	Analytics   Lane `yaml:"analytics"`
	Maintenance Lane `yaml:"maintenance"`
}

type AnalyticsConfig struct {
	Cadence []time.Duration `yaml:"cadence"`
	Horizon time.Duration   `yaml:"horizon"`
	Retry   RetryPolicy     `yaml:"retry"`
}

type SweeperConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m".
	Schedule     string        `yaml:"schedule"`
	StuckTimeout time.Duration `yaml:"stuck_timeout"`
	GraceWindow  time.Duration `yaml:"grace_window"`
	Lookahead    time.Duration `yaml:"lookahead"`
	StalePolicy  string        `yaml:"stale_policy"`
	BatchSize    int           `yaml:"batch_size"`
	// Retention is how long delivered and failed posts are kept. It must
	// cover the analytics horizon.
	Retention time.Duration `yaml:"retention"`
}

type PlatformConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	TokenURL     string        `yaml:"token_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ContentConfig selects the Vertex AI Gemini model. Without ProjectID posts
// are composed from campaign keywords.
type ContentConfig struct {
	ProjectID       string `yaml:"project_id"`
	Location        string `yaml:"location"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	Model           string `yaml:"model"`
	CharacterBudget int    `yaml:"character_budget"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	Store       string `yaml:"store"`
	Broker      string `yaml:"broker"`
	PostgresURI string `yaml:"postgres_uri"`
	RedisURI    string `yaml:"redis_uri"`
	// SecretKey seals account tokens at rest (AES, 16/24/32 bytes).
	SecretKey  string `yaml:"secret_key"`
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`

	Logger    logger.Config   `yaml:"logger"`
	Retry     RetryPolicy     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Lanes     LanesConfig     `yaml:"lanes"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Platform  PlatformConfig  `yaml:"platform"`
	Content   ContentConfig   `yaml:"content"`
	R2        R2              `yaml:"r2"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// LoadConfig reads a YAML file when path is set, otherwise the process
// environment (.env included). Defaults are applied and the result validated.
func LoadConfig(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		c, err := yamlenv.LoadConfig[Config](path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = c
	} else {
		_ = godotenv.Load()
		c, err := fromEnv()
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	var errs []error
	dur := func(key string) time.Duration {
		d, err := getEnvDuration(key)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	num := func(key string) int {
		n, err := getEnvInt(key)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	float := func(key string) float64 {
		f, err := getEnvFloat(key)
		if err != nil {
			errs = append(errs, err)
		}
		return f
	}

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":3000"),
		Store:       getEnv("STORE", "postgres"),
		Broker:      getEnv("BROKER", "asynq"),
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", ""),
		SecretKey:   getEnv("SECRET_KEY", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CookieName:  getEnv("COOKIE_NAME", "campaignflow_session"),
		Logger: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			File: logger.FileConfig{
				Path: getEnv("LOG_FILE", ""),
			},
		},
		Retry: RetryPolicy{
			BaseDelay:  dur("RETRY_BASE_DELAY"),
			Multiplier: float("RETRY_MULTIPLIER"),
			MaxDelay:   dur("RETRY_MAX_DELAY"),
			MaxRetries: num("RETRY_MAX_RETRIES"),
			Jitter:     float("RETRY_JITTER"),
		},
		RateLimit: RateLimitConfig{
			Capacity:        num("RATE_LIMIT_CAPACITY"),
			RefillPerSecond: float("RATE_LIMIT_REFILL_PER_SECOND"),
			MaxWait:         dur("RATE_LIMIT_MAX_WAIT"),
		},
		Lanes: LanesConfig{
			Delivery:    Lane{Concurrency: num("DELIVERY_CONCURRENCY")},
			Analytics:   Lane{Concurrency: num("ANALYTICS_CONCURRENCY")},
			Maintenance: Lane{Concurrency: num("MAINTENANCE_CONCURRENCY")},
		},
		Analytics: AnalyticsConfig{
			Horizon: dur("ANALYTICS_HORIZON"),
		},
		Sweeper: SweeperConfig{
			Schedule:     getEnv("SWEEP_SCHEDULE", ""),
			StuckTimeout: dur("SWEEP_STUCK_TIMEOUT"),
			GraceWindow:  dur("SWEEP_GRACE_WINDOW"),
			Lookahead:    dur("SWEEP_LOOKAHEAD"),
			StalePolicy:  getEnv("SWEEP_STALE_POLICY", ""),
			BatchSize:    num("SWEEP_BATCH_SIZE"),
			Retention:    dur("SWEEP_RETENTION"),
		},
		Platform: PlatformConfig{
			BaseURL:      getEnv("PLATFORM_BASE_URL", ""),
			ClientID:     getEnv("PLATFORM_CLIENT_ID", ""),
			ClientSecret: getEnv("PLATFORM_CLIENT_SECRET", ""),
			TokenURL:     getEnv("PLATFORM_TOKEN_URL", ""),
			Timeout:      dur("PLATFORM_TIMEOUT"),
		},
		Content: ContentConfig{
			ProjectID:       getEnv("VERTEX_PROJECT_ID", ""),
			Location:        getEnv("VERTEX_LOCATION", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			Model:           getEnv("GEMINI_MODEL", ""),
			CharacterBudget: num("CONTENT_CHARACTER_BUDGET"),
		},
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		Telegram: TelegramConfig{
			Token:  getEnv("TELEGRAM_TOKEN", ""),
			ChatID: int64(num("TELEGRAM_CHAT_ID")),
		},
	}

	if raw := getEnv("ANALYTICS_CADENCE", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			d, err := time.ParseDuration(strings.TrimSpace(part))
			if err != nil {
				errs = append(errs, fmt.Errorf("ANALYTICS_CADENCE: %w", err))
				continue
			}
			cfg.Analytics.Cadence = append(cfg.Analytics.Cadence, d)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultCadence samples often right after delivery and sparsely later on.
var DefaultCadence = []time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
	72 * time.Hour,
	7 * 24 * time.Hour,
	14 * 24 * time.Hour,
	30 * 24 * time.Hour,
}

func (c *Config) ApplyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":3000"
	}
	if c.Store == "" {
		c.Store = "postgres"
	}
	if c.Broker == "" {
		c.Broker = "asynq"
	}
	if c.CookieName == "" {
		c.CookieName = "campaignflow_session"
	}

	c.Retry.fill(RetryPolicy{
		BaseDelay:  time.Minute,
		Multiplier: 2,
		MaxDelay:   30 * time.Minute,
		MaxRetries: 3,
		Jitter:     0.2,
	})
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 50
	}
	if c.RateLimit.RefillPerSecond == 0 {
		// 50 calls per 15 minutes, the platform's per-user write window.
		c.RateLimit.RefillPerSecond = 50.0 / 900
	}
	if c.RateLimit.MaxWait == 0 {
		c.RateLimit.MaxWait = 10 * time.Second
	}

	defaultLane(&c.Lanes.Delivery, 10, 3)
	defaultLane(&c.Lanes.Analytics, 4, 2)
	defaultLane(&c.Lanes.Maintenance, 1, 1)

	if len(c.Analytics.Cadence) == 0 {
		c.Analytics.Cadence = append([]time.Duration(nil), DefaultCadence...)
	}
	if c.Analytics.Horizon == 0 {
		c.Analytics.Horizon = 30 * 24 * time.Hour
	}
	c.Analytics.Retry.fill(RetryPolicy{
		BaseDelay:  2 * time.Minute,
		Multiplier: 2,
		MaxDelay:   time.Hour,
		MaxRetries: 4,
		Jitter:     0.2,
	})

	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "@every 1m"
	}
	if c.Sweeper.StuckTimeout == 0 {
		c.Sweeper.StuckTimeout = 10 * time.Minute
	}
	if c.Sweeper.GraceWindow == 0 {
		c.Sweeper.GraceWindow = 15 * time.Minute
	}
	if c.Sweeper.Lookahead == 0 {
		c.Sweeper.Lookahead = 10 * time.Minute
	}
	if c.Sweeper.StalePolicy == "" {
		c.Sweeper.StalePolicy = StalePolicyFastTrack
	}
	if c.Sweeper.BatchSize == 0 {
		c.Sweeper.BatchSize = 200
	}
	if c.Sweeper.Retention == 0 {
		c.Sweeper.Retention = 30 * 24 * time.Hour
	}

	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = 30 * time.Second
	}
	if c.Content.Location == "" {
		c.Content.Location = "us-central1"
	}
	if c.Content.Model == "" {
		c.Content.Model = "gemini-2.5-flash"
	}
	if c.Content.CharacterBudget == 0 {
		c.Content.CharacterBudget = 280
	}
}

func defaultLane(l *Lane, concurrency, priority int) {
	if l.Concurrency == 0 {
		l.Concurrency = concurrency
	}
	if l.Priority == 0 {
		l.Priority = priority
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "postgres":
		if c.PostgresURI == "" {
			errs = append(errs, errors.New("postgres_uri is required for the postgres store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Broker {
	case "asynq":
		if c.RedisURI == "" {
			errs = append(errs, errors.New("redis_uri is required for the asynq broker"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown broker %q", c.Broker))
	}
	if c.Store == "memory" && c.Broker != "memory" {
		errs = append(errs, errors.New("the memory store only runs with the memory broker"))
	}
	switch n := len(c.SecretKey); n {
	case 0, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("secret_key must be 16, 24 or 32 bytes, got %d", n))
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.Analytics.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analytics.retry: %w", err))
	}
	if c.RateLimit.Capacity < 1 {
		errs = append(errs, errors.New("rate_limit.capacity must be >= 1"))
	}
	if c.RateLimit.RefillPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.refill_per_second must be >= 0"))
	}
	if c.RateLimit.MaxWait < 0 {
		errs = append(errs, errors.New("rate_limit.max_wait must be >= 0"))
	}
	for name, l := range map[string]Lane{"delivery": c.Lanes.Delivery, "analytics": c.Lanes.Analytics, "maintenance": c.Lanes.Maintenance} {
		if l.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("lanes.%s.concurrency must be >= 1", name))
		}
		if l.Priority < 1 {
			errs = append(errs, fmt.Errorf("lanes.%s.priority must be >= 1", name))
		}
	}

	prev := time.Duration(0)
	for i, d := range c.Analytics.Cadence {
		if d <= prev {
			errs = append(errs, fmt.Errorf("analytics.cadence[%d] must be greater than the previous step", i))
		}
		prev = d
	}
	if c.Analytics.Horizon <= 0 {
		errs = append(errs, errors.New("analytics.horizon must be positive"))
	}

	switch c.Sweeper.StalePolicy {
	case StalePolicyFastTrack, StalePolicyFail:
	default:
		errs = append(errs, fmt.Errorf("sweeper.stale_policy must be %q or %q", StalePolicyFastTrack, StalePolicyFail))
	}
	if c.Sweeper.StuckTimeout <= 0 || c.Sweeper.GraceWindow <= 0 || c.Sweeper.Lookahead < 0 {
		errs = append(errs, errors.New("sweeper timeouts must be positive"))
	}
	if c.Sweeper.BatchSize < 1 {
		errs = append(errs, errors.New("sweeper.batch_size must be >= 1"))
	}
	if c.Sweeper.Retention < c.Analytics.Horizon {
		errs = append(errs, errors.New("sweeper.retention must not be shorter than analytics.horizon"))
	}
	if c.Content.CharacterBudget < 4 {
		errs = append(errs, errors.New("content.character_budget must be >= 4"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
