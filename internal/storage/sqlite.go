// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
	metrics    *metrics.PrometheusMetrics
}

// NewSQLiteStorage creates a new SQLite storage instance. pm may be nil.
func NewSQLiteStorage(config *StorageConfig, pm *metrics.PrometheusMetrics) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage").WithField("driver", "sqlite"),
		migrations: GetSQLiteMigrations(),
		metrics:    pm,
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(max(1, s.config.MaxConnections/2))
	}
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	for _, migration := range s.migrations {
		if _, err := s.db.Exec(
			"INSERT OR IGNORE INTO schema_migrations (version, description) VALUES (?, ?)",
			migration.Version, migration.Description); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// SaveAttempt inserts or replaces an attempt
func (s *SQLiteStorage) SaveAttempt(ctx context.Context, attempt *models.Attempt) (err error) {
	start := time.Now()
	defer func() { s.record("upsert", err, start) }()

	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	row, err := toRow(attempt)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO attempts
		(id, trigger_type, contract, method, status, tx_hash, block_number,
		 gas_used, error, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		attempt.ID, string(attempt.Trigger), attempt.Contract, attempt.Method,
		string(attempt.Status), attempt.TxHash, row.blockNumber, row.gasUsed,
		attempt.Error, attempt.Message, attempt.StartedAt.UTC(), attempt.FinishedAt.UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save attempt", err.Error())
	}

	return nil
}

// GetAttempt retrieves a single attempt by ID
func (s *SQLiteStorage) GetAttempt(ctx context.Context, id string) (*models.Attempt, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE id = ?", id)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get attempt", err.Error())
	}
	return attempt, nil
}

// GetAttempts retrieves attempts newest first
func (s *SQLiteStorage) GetAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.Attempt, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	query, args := buildAttemptQuery(filter)
	query = positionalToQuestion(query, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query attempts", err.Error())
	}
	defer rows.Close()

	attempts := []*models.Attempt{}
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan attempt", err.Error())
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate attempts", err.Error())
	}

	return attempts, nil
}

// GetStats summarizes the attempt history
func (s *SQLiteStorage) GetStats(ctx context.Context) (*AttemptStats, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	stats := &AttemptStats{}
	var totalGas int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(gas_used), 0)
		FROM attempts
	`).Scan(&stats.TotalAttempts, &stats.SuccessfulAttempts, &stats.FailedAttempts, &totalGas)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to compute attempt stats", err.Error())
	}
	if stats.TotalGasUsed, err = safecast.ToUint64(totalGas); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Invalid stored gas total", err.Error())
	}

	if err := s.fillLatest(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStorage) fillLatest(ctx context.Context, stats *AttemptStats) error {
	latest, err := s.GetAttempts(ctx, models.AttemptFilter{Limit: 1})
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		stats.LastAttemptAt = &latest[0].StartedAt
	}

	success := models.AttemptStatusSuccess
	lastSuccess, err := s.GetAttempts(ctx, models.AttemptFilter{Status: &success, Limit: 1})
	if err != nil {
		return err
	}
	if len(lastSuccess) > 0 {
		stats.LastSuccessAt = &lastSuccess[0].FinishedAt
		stats.LastTxHash = lastSuccess[0].TxHash
	}
	return nil
}

// Cleanup removes attempts older than retentionDays
func (s *SQLiteStorage) Cleanup(ctx context.Context, retentionDays int) (deleted int64, err error) {
	start := time.Now()
	defer func() { s.record("delete", err, start) }()

	if s.db == nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	if retentionDays <= 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM attempts WHERE started_at < ?", retentionCutoff(retentionDays))
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to clean up attempts", err.Error())
	}

	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count deleted attempts", err.Error())
	}

	s.logger.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"deleted":        deleted,
	}).Info("Attempt history cleaned up")
	return deleted, nil
}

func (s *SQLiteStorage) record(operation string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, "attempts", status, time.Since(start))
}
