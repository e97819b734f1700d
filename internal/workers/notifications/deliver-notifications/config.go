// internal/workers/notifications/deliver-notifications/config.go
package delivernotifications

import (
	"time"

	"dinein-commerce/internal/common/config"
)

type Config struct {
	BatchSize int
	Interval  time.Duration
	Timeout   time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		BatchSize: cfg.Notifications.Delivery.BatchSize,
		Interval:  config.GetDuration(cfg.Notifications.Delivery.Interval),
		Timeout:   config.GetDuration(cfg.Workers[TaskType].Timeout),
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
