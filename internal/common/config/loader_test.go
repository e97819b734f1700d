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
    database: dinein
    user: dinein
  redis:
    address: localhost:6379
  elasticsearch:
    addresses: ["http://localhost:9200"]
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "22:00", cfg.Notifications.Policy.QuietHours.Start)
	assert.Equal(t, "06:00", cfg.Notifications.Policy.QuietHours.End)
	assert.Equal(t, 5, cfg.Notifications.Delivery.MaxRetries)
	assert.Equal(t, 30, cfg.Notifications.Delivery.BackoffBase)
	assert.Equal(t, 900, cfg.Notifications.Delivery.BackoffMax)
	assert.Equal(t, 24, cfg.Staff.InviteTTLHours)
	assert.Equal(t, 10, cfg.Exchange.PageSize)
	assert.Equal(t, "venues", cfg.Database.Elasticsearch.VenueIndex)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WA_TOKEN", "secret-token")
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`
whatsapp:
  access_token: ${TEST_WA_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.WhatsApp.AccessToken)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing postgres host",
			body:    "database:\n  redis:\n    address: x\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name: "bad quiet hours",
			body: minimalConfig + `
notifications:
  policy:
    quiet_hours:
      start: "25:99"
`,
			wantErr: "invalid time",
		},
		{
			name: "camunda enabled without broker",
			body: minimalConfig + `
camunda:
  enabled: true
`,
			wantErr: "camunda.broker_address",
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
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.GetDSN())
}
