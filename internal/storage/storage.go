// File: internal/storage/storage.go
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ccoveille/go-safecast"

	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// Storage defines the interface for attempt history operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Attempt operations
	SaveAttempt(ctx context.Context, attempt *models.Attempt) error
	GetAttempt(ctx context.Context, id string) (*models.Attempt, error)
	GetAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.Attempt, error)

	// Statistics and maintenance
	GetStats(ctx context.Context) (*AttemptStats, error)
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// AttemptStats summarizes the stored attempt history
type AttemptStats struct {
	TotalAttempts      int64      `json:"total_attempts"`
	SuccessfulAttempts int64      `json:"successful_attempts"`
	FailedAttempts     int64      `json:"failed_attempts"`
	LastAttemptAt      *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty"`
	LastTxHash         string     `json:"last_tx_hash,omitempty"`
	TotalGasUsed       uint64     `json:"total_gas_used"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}

const attemptColumns = `id, trigger_type, contract, method, status, tx_hash, block_number,
		       gas_used, error, message, started_at, finished_at`

// attemptRow holds the SQL-typed values of an attempt
type attemptRow struct {
	blockNumber int64
	gasUsed     int64
}

func toRow(attempt *models.Attempt) (attemptRow, error) {
	blockNumber, err := safecast.ToInt64(attempt.BlockNumber)
	if err != nil {
		return attemptRow{}, utils.NewAppError(utils.ErrCodeValidation, "Block number out of range", err.Error())
	}
	gasUsed, err := safecast.ToInt64(attempt.GasUsed)
	if err != nil {
		return attemptRow{}, utils.NewAppError(utils.ErrCodeValidation, "Gas used out of range", err.Error())
	}
	return attemptRow{blockNumber: blockNumber, gasUsed: gasUsed}, nil
}

// scanner is implemented by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*models.Attempt, error) {
	var (
		attempt              models.Attempt
		trigger, status      string
		blockNumber, gasUsed int64
	)

	err := row.Scan(&attempt.ID, &trigger, &attempt.Contract, &attempt.Method, &status,
		&attempt.TxHash, &blockNumber, &gasUsed, &attempt.Error, &attempt.Message,
		&attempt.StartedAt, &attempt.FinishedAt)
	if err != nil {
		return nil, err
	}

	attempt.Trigger = models.Trigger(trigger)
	attempt.Status = models.AttemptStatus(status)

	if attempt.BlockNumber, err = safecast.ToUint64(blockNumber); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Invalid stored block number", err.Error())
	}
	if attempt.GasUsed, err = safecast.ToUint64(gasUsed); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Invalid stored gas used", err.Error())
	}

	attempt.StartedAt = attempt.StartedAt.UTC()
	attempt.FinishedAt = attempt.FinishedAt.UTC()
	return &attempt, nil
}

// buildAttemptQuery renders a filtered SELECT with $N placeholders
func buildAttemptQuery(filter models.AttemptFilter) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT " + attemptColumns + " FROM attempts WHERE 1=1")

	args := []any{}
	argIndex := 1

	if filter.Status != nil {
		fmt.Fprintf(&b, " AND status = $%d", argIndex)
		args = append(args, string(*filter.Status))
		argIndex++
	}

	if filter.Since != nil {
		fmt.Fprintf(&b, " AND started_at >= $%d", argIndex)
		args = append(args, filter.Since.UTC())
		argIndex++
	}

	b.WriteString(" ORDER BY started_at DESC")

	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++

		if filter.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET $%d", argIndex)
			args = append(args, filter.Offset)
		}
	}

	return b.String(), args
}

// positionalToQuestion rewrites $N placeholders to ? for SQLite
func positionalToQuestion(query string, argCount int) string {
	for i := argCount; i >= 1; i-- {
		query = strings.Replace(query, fmt.Sprintf("$%d", i), "?", 1)
	}
	return query
}

func retentionCutoff(retentionDays int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -retentionDays)
}

func notFound(id string) error {
	return utils.NewAppError(utils.ErrCodeNotFound, "Attempt not found", id)
}
