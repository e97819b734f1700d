// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	WhatsApp      WhatsAppConfig          `mapstructure:"whatsapp"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Staff         StaffConfig             `mapstructure:"staff"`
	State         StateConfig             `mapstructure:"state"`
	Exchange      ExchangeConfig          `mapstructure:"exchange"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address         string `mapstructure:"address"`
	RequestTimeout  int    `mapstructure:"request_timeout"`  // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	QueryTimeout  int                 `mapstructure:"query_timeout"` // milliseconds
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	VenueIndex string   `mapstructure:"venue_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// WorkerConfig holds the core settings applicable to every job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Messaging ---

// WhatsAppConfig points at the Cloud API phone number used for replies and templates.
type WhatsAppConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	AccessToken   string `mapstructure:"access_token"`
	VerifyToken   string `mapstructure:"verify_token"`
	AppSecret     string `mapstructure:"app_secret"` // signs webhook deliveries
	Timeout       int    `mapstructure:"timeout"`    // milliseconds
}

// NotificationConfig holds outbound policy and delivery settings.
type NotificationConfig struct {
	Policy struct {
		QuietHours struct {
			Start    string `mapstructure:"start"`
			End      string `mapstructure:"end"`
			Timezone string `mapstructure:"timezone"`
		} `mapstructure:"quiet_hours"`
		Throttle struct {
			Limit         int `mapstructure:"limit"`
			WindowSeconds int `mapstructure:"window_seconds"`
		} `mapstructure:"throttle"`
		CriticalTypes []string `mapstructure:"critical_types"`
		Timeout       int      `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"policy"`

	Delivery struct {
		BatchSize   int `mapstructure:"batch_size"`
		Interval    int `mapstructure:"interval"` // milliseconds
		Lease       int `mapstructure:"lease"`    // milliseconds
		MaxRetries  int `mapstructure:"max_retries"`
		BackoffBase int `mapstructure:"backoff_base"` // seconds
		BackoffMax  int `mapstructure:"backoff_max"`  // seconds
	} `mapstructure:"delivery"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// StaffConfig controls invite codes.
type StaffConfig struct {
	InviteTTLHours int `mapstructure:"invite_ttl_hours"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	Argon2         struct {
		Time    uint32 `mapstructure:"time"`
		Memory  uint32 `mapstructure:"memory"` // KiB
		Threads uint8  `mapstructure:"threads"`
	} `mapstructure:"argon2"`
}

type StateConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"` // seconds
}

type ExchangeConfig struct {
	RegistryPath   string `mapstructure:"registry_path"`
	PageSize       int    `mapstructure:"page_size"`
	IdempotencyTTL int    `mapstructure:"idempotency_ttl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
