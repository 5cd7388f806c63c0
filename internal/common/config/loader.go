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

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml
// on top of it and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
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
	_ = v.MergeInConfig() // environment overlay is optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	// database.postgres.host can be overridden by DATABASE_POSTGRES_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
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

// loadEnvFile loads the first .env found walking up from the working
// directory, so tests in nested packages pick up the project root file.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

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
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Detector.APIKey == "" {
		if val := os.Getenv("GENAI_API_KEY"); val != "" {
			cfg.Detector.APIKey = val
		}
	}
	if cfg.AWS.Region == "" {
		if val := os.Getenv("AWS_REGION"); val != "" {
			cfg.AWS.Region = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "followup-engine"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
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
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "followup-notifications"
	}

	if cfg.Scheduler.ClaimTTL == 0 {
		cfg.Scheduler.ClaimTTL = 120000
	}
	if cfg.Scheduler.DefaultTimeZone == "" {
		cfg.Scheduler.DefaultTimeZone = "UTC"
	}

	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = 20000
	}
	if cfg.Detector.MaxRetries == 0 {
		cfg.Detector.MaxRetries = 2
	}

	if cfg.Analytics.CacheTTL == 0 {
		cfg.Analytics.CacheTTL = 60000
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
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when elasticsearch is enabled")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.AWS.SES.Enabled && cfg.AWS.SES.FromEmail == "" {
		return fmt.Errorf("aws.ses.from_email is required when ses is enabled")
	}
	if cfg.AWS.SNS.Enabled && cfg.AWS.SNS.PushTopicARN == "" {
		return fmt.Errorf("aws.sns.push_topic_arn is required when sns is enabled")
	}
	if (cfg.AWS.SES.Enabled || cfg.AWS.SNS.Enabled) && cfg.AWS.Region == "" {
		return fmt.Errorf("aws.region is required when an AWS channel is enabled")
	}

	if _, err := time.LoadLocation(cfg.Scheduler.DefaultTimeZone); err != nil {
		return fmt.Errorf("scheduler.default_time_zone: %w", err)
	}
	if cfg.Scheduler.Interval < 0 {
		return fmt.Errorf("scheduler.interval must not be negative")
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
