// internal/workers/followup/check-due-reminders/config.go
package checkduereminders

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 2 * time.Minute,
	}
}
