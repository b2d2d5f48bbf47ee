package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pysugar/universal-ai-router/internal/db/models"
)

const schema = `CREATE TABLE IF NOT EXISTS usage_records (
	id                TEXT PRIMARY KEY,
	timestamp         BIGINT NOT NULL,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	estimated_cost    DOUBLE PRECISION NOT NULL,
	estimated         BOOLEAN NOT NULL DEFAULT FALSE,
	caller_id         TEXT NOT NULL DEFAULT '',
	request_id        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records (timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_records_caller_id ON usage_records (caller_id);`

// UsageRepository stores UsageRecords in PostgreSQL so several router
// instances can share one ledger.
type UsageRepository struct {
	db *pgxpool.Pool
}

// Connect opens a pool for dsn and ensures the schema exists.
func Connect(ctx context.Context, dsn string, maxConns int32) (*UsageRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := NewUsageRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create usage_records: %w", err)
	}
	return nil
}

func (r *UsageRepository) Append(ctx context.Context, rec models.UsageRecord) error {
	query := `INSERT INTO usage_records (id, timestamp, provider, model, prompt_tokens, completion_tokens, total_tokens, estimated_cost, estimated, caller_id, request_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Exec(ctx, query, rec.ID, rec.Timestamp, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.EstimatedCost, rec.Estimated, rec.CallerID, rec.RequestID)
	return err
}

func (r *UsageRepository) Aggregate(ctx context.Context, q models.UsageQuery) (models.UsageStats, error) {
	query := `SELECT COALESCE(SUM(estimated_cost), 0), COALESCE(SUM(total_tokens), 0), COUNT(*) FROM usage_records WHERE timestamp >= $1 AND ($2 = '' OR caller_id = $2) AND ($3 = '' OR provider = $3)`
	var stats models.UsageStats
	err := r.db.QueryRow(ctx, query, q.SinceMillis, q.CallerID, q.Provider).Scan(&stats.TotalCost, &stats.TotalTokens, &stats.RequestCount)
	if err != nil {
		return models.UsageStats{}, err
	}
	return stats, nil
}

func (r *UsageRepository) Close() error {
	r.db.Close()
	return nil
}
