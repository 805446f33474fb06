package storage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

func openStore(t *testing.T, cfg *config.StorageConfig, pm *metrics.PrometheusMetrics) Storage {
	t.Helper()

	store, err := NewStorage(cfg, pm)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate())
	require.NoError(t, store.Ping())
	return store
}

func TestSQLiteStorage(t *testing.T) {
	pm := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	store := openStore(t, &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "data", "rollover.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	}, pm)

	// migrations are idempotent
	require.NoError(t, store.Migrate())

	runStorageSuite(t, store)

	assert.Greater(t, testutil.ToFloat64(pm.DatabaseOperationsTotal.WithLabelValues("upsert", "attempts", "success")), float64(0))
}

func TestPostgreSQLStorage(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	store := openStore(t, &config.StorageConfig{
		Type:             "postgres",
		ConnectionString: dsn,
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	}, nil)

	_, err := store.(*PostgreSQLStorage).db.Exec("TRUNCATE attempts")
	require.NoError(t, err)

	runStorageSuite(t, store)
}

func runStorageSuite(t *testing.T, store Storage) {
	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)

	attempts := []*models.Attempt{
		{
			ID: utils.GenerateID(), Trigger: models.TriggerStartup,
			Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3", Method: "rollover",
			Status: models.AttemptStatusSuccess,
			TxHash: "0x" + strings.Repeat("ab", 32), BlockNumber: 101, GasUsed: 21064,
			Message:   "Success called at x with tx id: y",
			StartedAt: base, FinishedAt: base.Add(2 * time.Second),
		},
		{
			ID: utils.GenerateID(), Trigger: models.TriggerSchedule,
			Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3", Method: "rollover",
			Status: models.AttemptStatusFailed, Error: "execution reverted",
			Message:   "Failed at x - Error: execution reverted",
			StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute + time.Second),
		},
		{
			ID: utils.GenerateID(), Trigger: models.TriggerSchedule,
			Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3", Method: "rollover",
			Status: models.AttemptStatusSuccess,
			TxHash: "0x" + strings.Repeat("cd", 32), BlockNumber: 130, GasUsed: 21064,
			StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(2*time.Minute + 3*time.Second),
		},
	}

	t.Run("Attempt Operations", func(t *testing.T) {
		ctx := context.Background()
		for _, a := range attempts {
			require.NoError(t, store.SaveAttempt(ctx, a))
		}

		got, err := store.GetAttempt(ctx, attempts[0].ID)
		require.NoError(t, err)
		assert.Equal(t, attempts[0].ID, got.ID)
		assert.Equal(t, models.TriggerStartup, got.Trigger)
		assert.Equal(t, models.AttemptStatusSuccess, got.Status)
		assert.Equal(t, attempts[0].TxHash, got.TxHash)
		assert.Equal(t, uint64(101), got.BlockNumber)
		assert.Equal(t, uint64(21064), got.GasUsed)
		assert.WithinDuration(t, attempts[0].StartedAt, got.StartedAt, time.Millisecond)
		assert.WithinDuration(t, attempts[0].FinishedAt, got.FinishedAt, time.Millisecond)

		_, err = store.GetAttempt(ctx, "missing")
		assert.Equal(t, utils.ErrCodeNotFound, utils.ErrorCode(err))
	})

	t.Run("Upsert", func(t *testing.T) {
		ctx := context.Background()
		updated := *attempts[1]
		updated.Message = "Failed at x - Error: replacement underpriced"
		require.NoError(t, store.SaveAttempt(ctx, &updated))

		got, err := store.GetAttempt(ctx, updated.ID)
		require.NoError(t, err)
		assert.Equal(t, updated.Message, got.Message)
	})

	t.Run("Filtering", func(t *testing.T) {
		ctx := context.Background()

		all, err := store.GetAttempts(ctx, models.AttemptFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, attempts[2].ID, all[0].ID, "newest first")

		failed := models.AttemptStatusFailed
		onlyFailed, err := store.GetAttempts(ctx, models.AttemptFilter{Status: &failed})
		require.NoError(t, err)
		require.Len(t, onlyFailed, 1)
		assert.Equal(t, "execution reverted", onlyFailed[0].Error)

		since := base.Add(30 * time.Second)
		recent, err := store.GetAttempts(ctx, models.AttemptFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		page, err := store.GetAttempts(ctx, models.AttemptFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, attempts[1].ID, page[0].ID)
	})

	t.Run("Statistics", func(t *testing.T) {
		stats, err := store.GetStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalAttempts)
		assert.Equal(t, int64(2), stats.SuccessfulAttempts)
		assert.Equal(t, int64(1), stats.FailedAttempts)
		assert.Equal(t, uint64(2*21064), stats.TotalGasUsed)
		assert.Equal(t, attempts[2].TxHash, stats.LastTxHash)
		require.NotNil(t, stats.LastAttemptAt)
		assert.WithinDuration(t, attempts[2].StartedAt, *stats.LastAttemptAt, time.Millisecond)
		require.NotNil(t, stats.LastSuccessAt)
		assert.WithinDuration(t, attempts[2].FinishedAt, *stats.LastSuccessAt, time.Millisecond)
	})

	t.Run("Cleanup", func(t *testing.T) {
		ctx := context.Background()
		old := &models.Attempt{
			ID: utils.GenerateID(), Trigger: models.TriggerSchedule,
			Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3", Method: "rollover",
			Status:    models.AttemptStatusFailed,
			StartedAt: time.Now().UTC().AddDate(0, 0, -40),
		}
		old.FinishedAt = old.StartedAt.Add(time.Second)
		require.NoError(t, store.SaveAttempt(ctx, old))

		deleted, err := store.Cleanup(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = store.GetAttempt(ctx, old.ID)
		assert.Equal(t, utils.ErrCodeNotFound, utils.ErrorCode(err))

		deleted, err = store.Cleanup(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("Out Of Range", func(t *testing.T) {
		err := store.SaveAttempt(context.Background(), &models.Attempt{
			ID: utils.GenerateID(), Trigger: models.TriggerManual, Status: models.AttemptStatusSuccess,
			BlockNumber: math.MaxUint64, StartedAt: time.Now(), FinishedAt: time.Now(),
		})
		assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))
	})
}

func TestNewStorageValidation(t *testing.T) {
	_, err := NewStorage(&config.StorageConfig{Type: "none"}, nil)
	assert.Error(t, err)

	_, err = NewStorage(&config.StorageConfig{Type: "mongodb", ConnectionString: "x"}, nil)
	assert.Equal(t, utils.ErrCodeConfiguration, utils.ErrorCode(err))

	_, err = NewStorage(&config.StorageConfig{Type: "sqlite"}, nil)
	assert.Error(t, err)

	assert.False(t, Enabled(&config.StorageConfig{Type: "none"}))
	assert.False(t, Enabled(&config.StorageConfig{}))
	assert.True(t, Enabled(&config.StorageConfig{Type: "SQLite"}))
}

func TestBuildAttemptQuery(t *testing.T) {
	status := models.AttemptStatusSuccess
	since := time.Unix(100, 0)

	query, args := buildAttemptQuery(models.AttemptFilter{Status: &status, Since: &since, Limit: 10, Offset: 5})
	assert.Contains(t, query, "status = $1")
	assert.Contains(t, query, "started_at >= $2")
	assert.Contains(t, query, "LIMIT $3")
	assert.Contains(t, query, "OFFSET $4")
	assert.Len(t, args, 4)

	sqlite := positionalToQuestion(query, len(args))
	assert.NotContains(t, sqlite, "$")
	assert.Contains(t, sqlite, "status = ?")
}

func TestNotConnected(t *testing.T) {
	store := NewSQLiteStorage(&StorageConfig{ConnectionString: "unused.db"}, nil)
	assert.Error(t, store.Ping())
	assert.Error(t, store.Migrate())
	assert.Error(t, store.SaveAttempt(context.Background(), &models.Attempt{}))
	_, err := store.GetAttempts(context.Background(), models.AttemptFilter{})
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}
