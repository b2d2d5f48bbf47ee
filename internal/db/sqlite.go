package db

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/universal-ai-router/internal/db/models"
)

// DefaultSQLitePath is used when no DSN is configured.
const DefaultSQLitePath = "router.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// InitDB opens the SQLite database and runs migrations.
func InitDB(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; queue in the pool instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.UsageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate usage records: %w", err)
	}
	return db, nil
}

// UsageRepository persists UsageRecords through gorm.
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Append inserts one record.
func (r *UsageRepository) Append(ctx context.Context, rec models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(&rec).Error
}

// Aggregate sums cost and tokens over the records matching q.
func (r *UsageRepository) Aggregate(ctx context.Context, q models.UsageQuery) (models.UsageStats, error) {
	var stats models.UsageStats
	tx := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("COALESCE(SUM(estimated_cost), 0) AS total_cost, COALESCE(SUM(total_tokens), 0) AS total_tokens, COUNT(*) AS request_count").
		Where("timestamp >= ?", q.SinceMillis)
	if q.CallerID != "" {
		tx = tx.Where("caller_id = ?", q.CallerID)
	}
	if q.Provider != "" {
		tx = tx.Where("provider = ?", q.Provider)
	}
	if err := tx.Scan(&stats).Error; err != nil {
		return models.UsageStats{}, err
	}
	return stats, nil
}

// Close releases the underlying connection pool.
func (r *UsageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
