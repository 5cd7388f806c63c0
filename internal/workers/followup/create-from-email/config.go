// internal/workers/followup/create-from-email/config.go
package createfromemail

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 45 * time.Second,
	}
}
