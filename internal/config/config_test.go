package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey      = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testRPC      = "http://127.0.0.1:8545"
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

func setRequired(t *testing.T) {
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("RPC_URL", testRPC)
	t.Setenv("CONTRACT_ADDRESS", testContract)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, testKey, cfg.PrivateKey)
	assert.Equal(t, testRPC, cfg.RPCURL)
	assert.Equal(t, testContract, cfg.ContractAddress)
	assert.Equal(t, "rollover.log", cfg.Rollover.LogFile)
	assert.Equal(t, "rollover", cfg.Rollover.Method)
	assert.Equal(t, 30*time.Second, cfg.Rollover.RequestTimeout)
	assert.Equal(t, time.Duration(0), cfg.Rollover.ConfirmTimeout)
	assert.Equal(t, "5 * * * * *", cfg.Schedule.Cron)
	assert.Equal(t, OverlapAllow, cfg.Schedule.Overlap)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, "none", cfg.Storage.Type)
	assert.False(t, cfg.Server.Enabled)
}

func TestValidate_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"missing private key", "PRIVATE_KEY"},
		{"missing rpc url", "RPC_URL"},
		{"missing contract address", "CONTRACT_ADDRESS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			cfg, err := Load(Options{})
			require.NoError(t, err)
			assert.ErrorIs(t, cfg.Validate(), ErrMissingRequired)
		})
	}
}

func TestValidate_WhitespaceIsEmpty(t *testing.T) {
	setRequired(t)
	t.Setenv("RPC_URL", "   ")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingRequired)
}

func TestLoad_EnvFile(t *testing.T) {
	// empty environment values count as unset, so the file wins
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("RPC_URL", "")
	t.Setenv("CONTRACT_ADDRESS", "")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "PRIVATE_KEY=" + testKey + "\nRPC_URL=" + testRPC + "\nCONTRACT_ADDRESS=" + testContract + "\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0600))

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, testKey, cfg.PrivateKey)
	assert.Equal(t, testContract, cfg.ContractAddress)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	setRequired(t)

	cfg, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
schedule:
  cron: "5 0 0 * * *"
  overlap: skip
rollover:
  log_file: /tmp/custom.log
  confirm_timeout: 2m
storage:
  type: sqlite
  connection_string: /tmp/attempts.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "5 0 0 * * *", cfg.Schedule.Cron)
	assert.Equal(t, OverlapSkip, cfg.Schedule.Overlap)
	assert.Equal(t, "/tmp/custom.log", cfg.Rollover.LogFile)
	assert.Equal(t, 2*time.Minute, cfg.Rollover.ConfirmTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
}

func TestLoad_EnvOverridesNestedKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("SCHEDULE_CRON", "@every 10s")
	t.Setenv("DATABASE_URL", "postgres://localhost/rollover")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "@every 10s", cfg.Schedule.Cron)
	assert.Equal(t, "postgres://localhost/rollover", cfg.Storage.ConnectionString)
}

func TestValidate_InvalidValues(t *testing.T) {
	setRequired(t)

	base, err := Load(Options{})
	require.NoError(t, err)

	badCron := *base
	badCron.Schedule.Cron = "every minute"
	assert.ErrorContains(t, badCron.Validate(), "invalid schedule cron")

	badZone := *base
	badZone.Schedule.Timezone = "Mars/Olympus"
	assert.ErrorContains(t, badZone.Validate(), "invalid schedule timezone")

	badOverlap := *base
	badOverlap.Schedule.Overlap = "queue"
	assert.ErrorContains(t, badOverlap.Validate(), "schedule overlap")

	badTimeout := *base
	badTimeout.Rollover.ConfirmTimeout = -time.Second
	assert.ErrorContains(t, badTimeout.Validate(), "confirm timeout")
}

func TestLoad_ServerEnvAliases(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_ENABLED", "true")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ENABLE_METRICS", "false")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Server.EnableMetrics)
	assert.True(t, cfg.Server.EnableHealth)
}

func TestLoad_EnvFileNestedAndAliasedKeys(t *testing.T) {
	setRequired(t)
	for _, name := range []string{"SCHEDULE_CRON", "SCHEDULE_OVERLAP", "ROLLOVER_LOG_FILE", "DATABASE_URL", "STORAGE_CONNECTION_STRING", "SERVER_PORT"} {
		t.Setenv(name, "")
	}
	t.Setenv("LOG_LEVEL", "warn")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := `SCHEDULE_CRON="5 0 0 * * *"
SCHEDULE_OVERLAP=skip
ROLLOVER_LOG_FILE=/tmp/x.log
DATABASE_URL=/tmp/h.db
SERVER_PORT=9191
LOG_LEVEL=debug
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0600))

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "5 0 0 * * *", cfg.Schedule.Cron)
	assert.Equal(t, OverlapSkip, cfg.Schedule.Overlap)
	assert.Equal(t, "/tmp/x.log", cfg.Rollover.LogFile)
	assert.Equal(t, "/tmp/h.db", cfg.Storage.ConnectionString)
	assert.Equal(t, 9191, cfg.Server.Port)

	// the real environment wins over the file
	assert.Equal(t, "warn", cfg.Logging.Level)
}
