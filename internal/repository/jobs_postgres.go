package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	media_url     TEXT NOT NULL,
	state         TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	result        JSONB,
	score         DOUBLE PRECISION,
	error_message TEXT NOT NULL DEFAULT '',
	submitted_at  TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS analyses_user_submitted_idx ON analyses (user_id, submitted_at DESC);
`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

// SaveJob upserts the job. The WHERE clause on the conflict branch mirrors
// supersedes so rows never leave a terminal state.
func (r *PostgresJobsRepository) SaveJob(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}

	var (
		result []byte
		score  *float64
	)
	if len(job.Result) > 0 {
		result = job.Result
	}
	if value, ok := scoreOf(job); ok {
		score = &value
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO analyses (
			id,
			user_id,
			media_url,
			state,
			attempts,
			result,
			score,
			error_message,
			submitted_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			result = EXCLUDED.result,
			score = EXCLUDED.score,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
		WHERE analyses.state NOT IN ('completed', 'failed', 'timed_out')
			AND NOT (analyses.state = 'polling' AND EXCLUDED.state = 'submitted')
			AND NOT (analyses.state = EXCLUDED.state AND EXCLUDED.attempts < analyses.attempts)
	`,
		job.ID,
		job.UserID,
		job.MediaURL,
		string(job.State),
		job.Attempts,
		result,
		score,
		job.Error,
		job.SubmittedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, media_url, state, attempts, result, error_message, submitted_at, updated_at
		FROM analyses
		WHERE id = $1
	`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("query analysis: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, int, error) {
	filter = normalizeFilter(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM analyses WHERE ($1 = '' OR user_id = $1)
	`, filter.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, media_url, state, attempts, result, error_message, submitted_at, updated_at
		FROM analyses
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY submitted_at DESC, id
		LIMIT $2 OFFSET $3
	`, filter.UserID, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate analyses: %w", rows.Err())
	}
	return items, total, nil
}

func (r *PostgresJobsRepository) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats := domain.UserStats{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(score), 0)
		FROM analyses
		WHERE user_id = $1 AND state = 'completed'
	`, userID).Scan(&stats.CompletedCount, &stats.AverageScore)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("query user stats: %w", err)
	}
	return stats, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job    domain.Job
		state  string
		result []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.MediaURL,
		&state,
		&job.Attempts,
		&result,
		&job.Error,
		&job.SubmittedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	job.State = domain.JobState(state)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return job, nil
}
