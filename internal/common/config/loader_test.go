package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
database:
  postgres:
    host: localhost
    database: followups
    user: followup
  redis:
    address: localhost:6379
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "followup-engine", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "followup-notifications", cfg.Database.Elasticsearch.Index)
	assert.Equal(t, "UTC", cfg.Scheduler.DefaultTimeZone)
	assert.Equal(t, 120000, cfg.Scheduler.ClaimTTL)
	assert.Equal(t, 0, cfg.Scheduler.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile_WorkerDefaults(t *testing.T) {
	body := minimalConfig + `
workers:
  followup-check-due-reminders:
    enabled: true
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)

	wc := GetWorkerConfig(cfg, "followup-check-due-reminders")
	assert.True(t, wc.Enabled)
	assert.Equal(t, 5, wc.MaxJobsActive)
	assert.Equal(t, 30000, wc.Timeout)
	assert.Equal(t, 3, wc.MaxRetries)

	assert.True(t, IsWorkerEnabled(cfg, "unknown-worker"))
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("FOLLOWUP_TEST_DB_PASSWORD", "s3cret")
	body := `
database:
  postgres:
    host: localhost
    database: followups
    user: followup
    password: ${FOLLOWUP_TEST_DB_PASSWORD}
  redis:
    address: localhost:6379
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
}

func TestLoadFromFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "missing postgres host",
			body: `
database:
  postgres:
    database: followups
    user: followup
  redis:
    address: localhost:6379
`,
			wantErr: "database.postgres.host is required",
		},
		{
			name: "missing redis",
			body: `
database:
  postgres:
    host: localhost
    database: followups
    user: followup
`,
			wantErr: "database.redis.address is required",
		},
		{
			name: "ses without sender",
			body: minimalConfig + `
aws:
  region: eu-west-1
  ses:
    enabled: true
`,
			wantErr: "aws.ses.from_email is required",
		},
		{
			name: "camunda without broker",
			body: minimalConfig + `
camunda:
  enabled: true
`,
			wantErr: "camunda.broker_address is required",
		},
		{
			name: "bad time zone",
			body: minimalConfig + `
scheduler:
  default_time_zone: Mars/Olympus
`,
			wantErr: "scheduler.default_time_zone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=require", p.GetDSN())
}
