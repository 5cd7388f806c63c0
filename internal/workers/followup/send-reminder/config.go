// internal/workers/followup/send-reminder/config.go
package sendreminder

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
