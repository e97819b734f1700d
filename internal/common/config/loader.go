// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml and applies env overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // env file is optional

	return finalize(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finalize(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	// WHATSAPP_ACCESS_TOKEN overrides whatsapp.access_token
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finalize(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// Secrets are usually injected without a yaml placeholder.
func overrideEmptyConfig(cfg *Config) {
	if cfg.WhatsApp.AccessToken == "" {
		cfg.WhatsApp.AccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	}
	if cfg.WhatsApp.AppSecret == "" {
		cfg.WhatsApp.AppSecret = os.Getenv("WHATSAPP_APP_SECRET")
	}
	if cfg.WhatsApp.VerifyToken == "" {
		cfg.WhatsApp.VerifyToken = os.Getenv("WHATSAPP_VERIFY_TOKEN")
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 10000
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 3000
	}
	if cfg.Database.Redis.Prefix == "" {
		cfg.Database.Redis.Prefix = "dinein:"
	}
	if cfg.Database.Elasticsearch.VenueIndex == "" {
		cfg.Database.Elasticsearch.VenueIndex = "venues"
	}

	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if cfg.WhatsApp.Timeout == 0 {
		cfg.WhatsApp.Timeout = 10000
	}

	policy := &cfg.Notifications.Policy
	if policy.QuietHours.Start == "" {
		policy.QuietHours.Start = "22:00"
	}
	if policy.QuietHours.End == "" {
		policy.QuietHours.End = "06:00"
	}
	if policy.QuietHours.Timezone == "" {
		policy.QuietHours.Timezone = "Africa/Kigali"
	}
	if policy.Throttle.Limit == 0 {
		policy.Throttle.Limit = 30
	}
	if policy.Throttle.WindowSeconds == 0 {
		policy.Throttle.WindowSeconds = 60
	}
	if policy.Timeout == 0 {
		policy.Timeout = 1000
	}

	delivery := &cfg.Notifications.Delivery
	if delivery.BatchSize == 0 {
		delivery.BatchSize = 20
	}
	if delivery.Interval == 0 {
		delivery.Interval = 5000
	}
	if delivery.Lease == 0 {
		delivery.Lease = 60000
	}
	if delivery.MaxRetries == 0 {
		delivery.MaxRetries = 5
	}
	if delivery.BackoffBase == 0 {
		delivery.BackoffBase = 30
	}
	if delivery.BackoffMax == 0 {
		delivery.BackoffMax = 900
	}

	if cfg.Staff.InviteTTLHours == 0 {
		cfg.Staff.InviteTTLHours = 24
	}
	if cfg.Staff.MaxAttempts == 0 {
		cfg.Staff.MaxAttempts = 5
	}
	if cfg.Staff.Argon2.Time == 0 {
		cfg.Staff.Argon2.Time = 1
	}
	if cfg.Staff.Argon2.Memory == 0 {
		cfg.Staff.Argon2.Memory = 19 * 1024
	}
	if cfg.Staff.Argon2.Threads == 0 {
		cfg.Staff.Argon2.Threads = 1
	}

	if cfg.State.CacheTTL == 0 {
		cfg.State.CacheTTL = 1800
	}
	if cfg.Exchange.PageSize == 0 {
		cfg.Exchange.PageSize = 10
	}
	if cfg.Exchange.IdempotencyTTL == 0 {
		cfg.Exchange.IdempotencyTTL = 86400
	}
	if cfg.Exchange.RegistryPath == "" {
		cfg.Exchange.RegistryPath = "configs/flows.json"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Workers == nil {
		cfg.Workers = map[string]WorkerConfig{}
	}
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}
	if _, err := time.LoadLocation(cfg.Notifications.Policy.QuietHours.Timezone); err != nil {
		return fmt.Errorf("notifications.policy.quiet_hours.timezone: %w", err)
	}
	for _, hhmm := range []string{cfg.Notifications.Policy.QuietHours.Start, cfg.Notifications.Policy.QuietHours.End} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("notifications.policy.quiet_hours: invalid time %q", hhmm)
		}
	}
	return nil
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
