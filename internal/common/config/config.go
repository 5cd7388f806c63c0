// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig               `mapstructure:"app"`
	Server    ServerConfig            `mapstructure:"server"`
	Camunda   CamundaConfig           `mapstructure:"camunda"`
	Database  DatabaseConfig          `mapstructure:"database"`
	AWS       AWSConfig               `mapstructure:"aws"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Detector  DetectorConfig          `mapstructure:"detector"`
	Analytics AnalyticsConfig         `mapstructure:"analytics"`
	Workers   map[string]WorkerConfig `mapstructure:"workers"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
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
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ElasticsearchConfig configures the optional notification audit index.
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds the notification channel integrations.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	SES    struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled      bool   `mapstructure:"enabled"`
		PushTopicARN string `mapstructure:"push_topic_arn"`
	} `mapstructure:"sns"`
}

// SchedulerConfig controls the in-process reminder trigger. The workflow
// engine can drive passes instead, in which case Interval is left at 0.
type SchedulerConfig struct {
	Interval        int    `mapstructure:"interval"`  // milliseconds, 0 disables the ticker
	ClaimTTL        int    `mapstructure:"claim_ttl"` // milliseconds
	DefaultTimeZone string `mapstructure:"default_time_zone"`
}

// DetectorConfig points at the GenAI follow-up detector.
type DetectorConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

type AnalyticsConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
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
