package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable for the assistant process. Values come from
// environment variables with coded defaults; a .env file is honored when
// present.
type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (dedup guard state; optional)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS gateways
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// Push relay
	PushGatewayURL   string
	PushGatewayToken string

	// Platform API (roster/injury/news/waiver/schedule data)
	PlatformAPIURL   string
	PlatformAPIToken string

	// Delivery events stream (optional)
	SQSRegion    string
	SQSEventsURL string

	// Dispatcher mode: "live" or "mock"
	DispatcherMode string

	// Monitor cadences
	RosterInterval  time.Duration
	InjuryInterval  time.Duration
	NewsInterval    time.Duration
	WaiverInterval  time.Duration
	CleanupInterval time.Duration
	QueueInterval   time.Duration
	LineupInterval  time.Duration
	SummaryInterval time.Duration

	// Queue processing
	QueueBatchSize int
	RetryBackoff   time.Duration

	// Retention for the cleanup task
	RetentionDays int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	// Best effort; absence of a .env file is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "huddle",
		DBPassword: "",
		DBName:     "huddle",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "alerts@huddle.local",

		DispatcherMode: "mock",

		RosterInterval:  30 * time.Minute,
		InjuryInterval:  15 * time.Minute,
		NewsInterval:    15 * time.Minute,
		WaiverInterval:  60 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		QueueInterval:   1 * time.Minute,
		LineupInterval:  5 * time.Minute,
		SummaryInterval: 30 * time.Minute,

		QueueBatchSize: 50,
		RetryBackoff:   5 * time.Minute,

		RetentionDays: 30,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// AWS config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	// Push relay
	if url := os.Getenv("PUSH_GATEWAY_URL"); url != "" {
		cfg.PushGatewayURL = url
	}
	if token := os.Getenv("PUSH_GATEWAY_TOKEN"); token != "" {
		cfg.PushGatewayToken = token
	}

	// Platform API
	if url := os.Getenv("PLATFORM_API_URL"); url != "" {
		cfg.PlatformAPIURL = url
	}
	if token := os.Getenv("PLATFORM_API_TOKEN"); token != "" {
		cfg.PlatformAPIToken = token
	}

	// SQS events
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	if url := os.Getenv("SQS_EVENTS_URL"); url != "" {
		cfg.SQSEventsURL = url
	}

	// Dispatcher mode
	if mode := os.Getenv("DISPATCHER_MODE"); mode != "" {
		if mode != "live" && mode != "mock" {
			return nil, fmt.Errorf("invalid DISPATCHER_MODE: %q (want live or mock)", mode)
		}
		cfg.DispatcherMode = mode
	}

	// Monitor cadences
	for _, iv := range []struct {
		env string
		dst *time.Duration
	}{
		{"ROSTER_INTERVAL", &cfg.RosterInterval},
		{"INJURY_INTERVAL", &cfg.InjuryInterval},
		{"NEWS_INTERVAL", &cfg.NewsInterval},
		{"WAIVER_INTERVAL", &cfg.WaiverInterval},
		{"CLEANUP_INTERVAL", &cfg.CleanupInterval},
		{"QUEUE_INTERVAL", &cfg.QueueInterval},
		{"LINEUP_INTERVAL", &cfg.LineupInterval},
		{"SUMMARY_INTERVAL", &cfg.SummaryInterval},
	} {
		if v := os.Getenv(iv.env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", iv.env, err)
			}
			*iv.dst = d
		}
	}

	if size := os.Getenv("QUEUE_BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid QUEUE_BATCH_SIZE: %w", err)
		}
		cfg.QueueBatchSize = n
	}

	if days := os.Getenv("RETENTION_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = n
	}

	return cfg, nil
}
