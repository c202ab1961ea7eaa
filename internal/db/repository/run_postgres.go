package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saltfish/backtestlab/internal/db"
	"github.com/saltfish/backtestlab/internal/domain"
)

const runSchema = `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id            UUID PRIMARY KEY,
		mode          TEXT NOT NULL,
		exchange_name TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		timeframe     TEXT NOT NULL,
		strategy_name TEXT NOT NULL,
		start_date    TEXT NOT NULL,
		end_date      TEXT NOT NULL,
		job_id        TEXT,
		status        TEXT NOT NULL,
		error         TEXT,
		request       JSONB,
		result        JSONB,
		created_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_backtest_runs_created_at ON backtest_runs (created_at DESC);
`

const runColumns = `
	id, mode, exchange_name, symbol, timeframe, strategy_name, start_date, end_date,
	job_id, status, error, request, result, created_at, completed_at
`

// runRepo implements RunRepository using PostgreSQL.
type runRepo struct {
	pool *db.Pool
}

// NewRunRepository creates a new PostgreSQL run repository.
func NewRunRepository(pool *db.Pool) RunRepository {
	return &runRepo{pool: pool}
}

func (r *runRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, runSchema); err != nil {
		return fmt.Errorf("failed to create backtest_runs: %w", err)
	}
	return nil
}

// Create inserts a newly submitted run.
func (r *runRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO backtest_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Mode.String(),
		run.Selection.Exchange,
		run.Selection.Market,
		run.Selection.Timeframe,
		run.Selection.Strategy,
		run.Selection.StartDate,
		run.Selection.EndDate,
		nullIfEmptyString(run.JobID),
		run.Status.String(),
		nullIfEmptyString(run.Error),
		nullIfEmptyJSON(run.Request),
		nullIfEmptyJSON(run.Result),
		run.CreatedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Update writes the outcome fields of a run.
func (r *runRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE backtest_runs SET
			job_id = $2,
			status = $3,
			error = $4,
			result = $5,
			completed_at = $6
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		run.ID,
		nullIfEmptyString(run.JobID),
		run.Status.String(),
		nullIfEmptyString(run.Error),
		nullIfEmptyJSON(run.Result),
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("run", run.ID.String())
	}
	return nil
}

func (r *runRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("run", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List lists runs with filters and pagination, newest first.
func (r *runRepo) List(ctx context.Context, query domain.RunQuery) ([]*domain.Run, int, error) {
	query.SetDefaults()

	var conditions []string
	var args []any
	argNum := 1

	if query.Mode != nil {
		conditions = append(conditions, fmt.Sprintf("mode = $%d", argNum))
		args = append(args, query.Mode.String())
		argNum++
	}
	if query.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, query.Status.String())
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	countQuery := "SELECT COUNT(*) FROM backtest_runs " + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s FROM backtest_runs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, runColumns, whereClause, argNum, argNum+1)
	args = append(args, query.PageSize, query.Offset())

	rows, err := r.pool.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, totalCount, nil
}

// scanRun reads one row in runColumns order. pgx.Rows satisfies pgx.Row.
func scanRun(row pgx.Row) (*domain.Run, error) {
	run := &domain.Run{}
	var modeStr, statusStr string
	var jobID, errMsg *string

	err := row.Scan(
		&run.ID,
		&modeStr,
		&run.Selection.Exchange,
		&run.Selection.Market,
		&run.Selection.Timeframe,
		&run.Selection.Strategy,
		&run.Selection.StartDate,
		&run.Selection.EndDate,
		&jobID,
		&statusStr,
		&errMsg,
		&run.Request,
		&run.Result,
		&run.CreatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Mode = domain.ModeFromString(modeStr)
	run.Status = domain.RunStatus(statusStr)
	if jobID != nil {
		run.JobID = *jobID
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	return run, nil
}

func nullIfEmptyString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfEmptyJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Ensure interface implementations at compile time.
var _ RunRepository = (*runRepo)(nil)
