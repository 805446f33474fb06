package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
	metrics    *metrics.PrometheusMetrics
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance. pm may be nil.
func NewPostgreSQLStorage(config *StorageConfig, pm *metrics.PrometheusMetrics) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage").WithField("driver", "postgres"),
		migrations: GetPostgresMigrations(),
		metrics:    pm,
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	connector, err := pq.NewConnector(p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Invalid PostgreSQL connection string", err.Error())
	}
	db := sql.OpenDB(connector)

	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(max(1, p.config.MaxConnections/2))
	}
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	for _, migration := range p.migrations {
		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	for _, migration := range p.migrations {
		if _, err := p.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
			migration.Version, migration.Description); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
	}

	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

// SaveAttempt inserts or updates an attempt
func (p *PostgreSQLStorage) SaveAttempt(ctx context.Context, attempt *models.Attempt) (err error) {
	start := time.Now()
	defer func() { p.record("upsert", err, start) }()

	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	row, err := toRow(attempt)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO attempts
		(id, trigger_type, contract, method, status, tx_hash, block_number,
		 gas_used, error, message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			tx_hash = EXCLUDED.tx_hash,
			block_number = EXCLUDED.block_number,
			gas_used = EXCLUDED.gas_used,
			error = EXCLUDED.error,
			message = EXCLUDED.message,
			finished_at = EXCLUDED.finished_at
	`

	_, err = p.db.ExecContext(ctx, query,
		attempt.ID, string(attempt.Trigger), attempt.Contract, attempt.Method,
		string(attempt.Status), attempt.TxHash, row.blockNumber, row.gasUsed,
		attempt.Error, attempt.Message, attempt.StartedAt.UTC(), attempt.FinishedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save attempt",
				fmt.Sprintf("%s (%s)", pqErr.Message, pqErr.Code.Name()))
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save attempt", err.Error())
	}

	return nil
}

// GetAttempt retrieves a single attempt by ID
func (p *PostgreSQLStorage) GetAttempt(ctx context.Context, id string) (*models.Attempt, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	row := p.db.QueryRowContext(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE id = $1", id)
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
func (p *PostgreSQLStorage) GetAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.Attempt, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	query, args := buildAttemptQuery(filter)

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetStats(ctx context.Context) (*AttemptStats, error) {
	if p.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	stats := &AttemptStats{}
	var (
		totalGas      int64
		lastAttemptAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(gas_used), 0)::BIGINT,
		       MAX(started_at)
		FROM attempts
	`).Scan(&stats.TotalAttempts, &stats.SuccessfulAttempts, &stats.FailedAttempts, &totalGas, &lastAttemptAt)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to compute attempt stats", err.Error())
	}
	if stats.TotalGasUsed, err = safecast.ToUint64(totalGas); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Invalid stored gas total", err.Error())
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time.UTC()
		stats.LastAttemptAt = &t
	}

	var (
		lastSuccessAt time.Time
		lastTxHash    string
	)
	err = p.db.QueryRowContext(ctx, `
		SELECT finished_at, tx_hash FROM attempts
		WHERE status = 'success'
		ORDER BY started_at DESC LIMIT 1
	`).Scan(&lastSuccessAt, &lastTxHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get last success", err.Error())
	default:
		lastSuccessAt = lastSuccessAt.UTC()
		stats.LastSuccessAt = &lastSuccessAt
		stats.LastTxHash = lastTxHash
	}

	return stats, nil
}

// Cleanup removes attempts older than retentionDays
func (p *PostgreSQLStorage) Cleanup(ctx context.Context, retentionDays int) (deleted int64, err error) {
	start := time.Now()
	defer func() { p.record("delete", err, start) }()

	if p.db == nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	if retentionDays <= 0 {
		return 0, nil
	}

	result, err := p.db.ExecContext(ctx, "DELETE FROM attempts WHERE started_at < $1", retentionCutoff(retentionDays))
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to clean up attempts", err.Error())
	}

	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count deleted attempts", err.Error())
	}

	p.logger.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"deleted":        deleted,
	}).Info("Attempt history cleaned up")
	return deleted, nil
}

func (p *PostgreSQLStorage) record(operation string, err error, start time.Time) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordDatabaseOperation(operation, "attempts", status, time.Since(start))
}
