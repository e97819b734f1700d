// internal/workers/orders/update-order-status/config.go
package updateorderstatus

import (
	"time"

	"dinein-commerce/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	timeout := config.GetDuration(cfg.Workers[TaskType].Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{Timeout: timeout}
}
